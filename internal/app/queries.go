package app

import (
	"context"

	"github.com/samber/lo"

	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/store"
)

// RoomState is the read-only room snapshot served over HTTP.
type RoomState struct {
	Room         domain.Room          `json:"room"`
	Participants []domain.Participant `json:"participants"`
}

// MessagesResult is one page of history plus the opaque token for the next
// older page. NextCursor is empty on the last page.
type MessagesResult struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// ListActiveRooms returns the lobby listing. Private rooms are reachable by
// id only and never listed.
func (c *Coordinator) ListActiveRooms(ctx context.Context) ([]store.RoomWithCount, error) {
	rooms, err := c.store.ListActiveRooms(ctx)
	if err != nil {
		return nil, c.upstream("list active rooms", err)
	}
	return lo.Filter(rooms, func(r store.RoomWithCount, _ int) bool {
		return r.Room.Type == domain.RoomPublic
	}), nil
}

// GetRoomState returns one active room with its connected participants.
func (c *Coordinator) GetRoomState(ctx context.Context, roomID domain.RoomID) (*RoomState, error) {
	room, err := c.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	participants, err := c.store.ListConnected(ctx, roomID)
	if err != nil {
		return nil, c.upstream("list connected", err)
	}
	return &RoomState{Room: room, Participants: participants}, nil
}

// GetMessages pages backwards through a room's history. cursorToken is the
// opaque token from a previous page, empty for the newest page; limit is
// clamped to the store bounds.
func (c *Coordinator) GetMessages(ctx context.Context, roomID domain.RoomID, cursorToken string, limit int) (*MessagesResult, error) {
	if _, err := c.activeRoom(ctx, roomID); err != nil {
		return nil, err
	}

	var cursor *store.Cursor
	if cursorToken != "" {
		decoded, err := store.DecodeCursor(cursorToken)
		if err != nil {
			return nil, validation("invalid cursor")
		}
		cursor = &decoded
	}

	if limit <= 0 {
		limit = store.DefaultPageSize
	}
	if limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}

	page, err := c.store.ListMessages(ctx, roomID, cursor, limit)
	if err != nil {
		return nil, c.upstream("list messages", err)
	}

	out := &MessagesResult{Messages: page.Messages}
	if page.NextCursor != nil {
		out.NextCursor = page.NextCursor.Encode()
	}
	return out, nil
}
