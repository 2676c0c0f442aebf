package app

import (
	"context"

	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/domain"
)

// SendMessage persists a chat message and fans it out to the room, sender
// included so every client renders the same ordered stream.
func (c *Coordinator) SendMessage(ctx context.Context, senderID domain.UserID, roomID domain.RoomID, content string) (*domain.Message, error) {
	if _, err := c.activeRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if _, err := c.connectedActor(ctx, roomID, senderID); err != nil {
		return nil, err
	}

	msg, err := domain.NewMessage(roomID, senderID, content)
	if err != nil {
		return nil, validation(err.Error())
	}
	if err := c.store.CreateMessage(ctx, *msg); err != nil {
		return nil, c.upstream("create message", err)
	}

	c.publish(ctx, bus.Intent{
		Audience: bus.Room(roomID),
		Event:    bus.EventReceiveMessage,
		Payload:  messagePayload{Message: *msg},
	})
	return msg, nil
}
