package gateway

import (
	"context"
	"time"

	"github.com/soapboxhq/soapbox/internal/domain"
)

type createRoomReq struct {
	Title string `json:"title" validate:"required"`
	Type  string `json:"type" validate:"omitempty,oneof=public private"`
}

type roomReq struct {
	RoomID string `json:"room_id" validate:"required"`
}

type targetReq struct {
	RoomID   string `json:"room_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
}

type promoteReq struct {
	RoomID   string `json:"room_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=co-host speaker listener"`
}

type sendMessageReq struct {
	RoomID  string `json:"room_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type restoreStateReq struct {
	RoomID string     `json:"room_id" validate:"required"`
	Since  *time.Time `json:"since"`
}

func (ctl *Controller) handleCreateRoom(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req createRoomReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	roomType := domain.RoomType(req.Type)
	if req.Type == "" {
		roomType = domain.RoomPublic
	}

	result, err := ctl.coord.CreateRoom(ctx, c.userID, c.id, req.Title, roomType)
	if err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.bus.JoinRoom(c, result.Room.ID)
	ctl.ack(c, frame.ID, result, nil)
}

func (ctl *Controller) handleJoinRoom(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req roomReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	roomID := domain.RoomID(req.RoomID)

	// Join the broadcast group before committing so no event published
	// between commit and subscription is lost. Rolled back on failure.
	ctl.bus.JoinRoom(c, roomID)
	result, err := ctl.coord.JoinRoom(ctx, c.userID, roomID, c.id)
	if err != nil {
		ctl.bus.LeaveRoom(c, roomID)
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, result, nil)
}

func (ctl *Controller) handleLeaveRoom(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req roomReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	roomID := domain.RoomID(req.RoomID)

	if err := ctl.coord.LeaveRoom(ctx, c.userID, roomID); err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.bus.LeaveRoom(c, roomID)
	ctl.ack(c, frame.ID, nil, nil)
}

func (ctl *Controller) handleEndRoom(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req roomReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	if err := ctl.coord.EndRoom(ctx, c.userID, domain.RoomID(req.RoomID)); err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, nil, nil)
}

func (ctl *Controller) handlePromote(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req promoteReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	result, err := ctl.coord.Promote(ctx, c.userID, domain.UserID(req.TargetID), domain.RoomID(req.RoomID), domain.Role(req.Role))
	if err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, result, nil)
}

func (ctl *Controller) handleDemote(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req targetReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	result, err := ctl.coord.Demote(ctx, c.userID, domain.UserID(req.TargetID), domain.RoomID(req.RoomID))
	if err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, result, nil)
}

func (ctl *Controller) handleGrantMic(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req targetReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	result, err := ctl.coord.GrantMic(ctx, c.userID, domain.UserID(req.TargetID), domain.RoomID(req.RoomID))
	if err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, result, nil)
}

func (ctl *Controller) handleRevokeMic(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req targetReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	result, err := ctl.coord.RevokeMic(ctx, c.userID, domain.UserID(req.TargetID), domain.RoomID(req.RoomID))
	if err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, result, nil)
}

func (ctl *Controller) handleRemoveUser(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req targetReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	if err := ctl.coord.RemoveUser(ctx, c.userID, domain.UserID(req.TargetID), domain.RoomID(req.RoomID)); err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, nil, nil)
}

func (ctl *Controller) handleRequestMic(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req roomReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	if err := ctl.coord.RequestMic(ctx, c.userID, domain.RoomID(req.RoomID)); err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, nil, nil)
}

func (ctl *Controller) handleSendMessage(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req sendMessageReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	msg, err := ctl.coord.SendMessage(ctx, c.userID, domain.RoomID(req.RoomID), req.Content)
	if err != nil {
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, msg, nil)
}

func (ctl *Controller) handleRestoreState(ctx context.Context, c *wsConn, frame inboundFrame) {
	var req restoreStateReq
	if opErr := ctl.decode(frame, &req); opErr != nil {
		ctl.ack(c, frame.ID, nil, opErr)
		return
	}
	roomID := domain.RoomID(req.RoomID)

	ctl.bus.JoinRoom(c, roomID)
	result, err := ctl.coord.RestoreState(ctx, c.userID, roomID, c.id, req.Since)
	if err != nil {
		ctl.bus.LeaveRoom(c, roomID)
		ctl.fail(c, frame.ID, err)
		return
	}
	ctl.ack(c, frame.ID, result, nil)
}
