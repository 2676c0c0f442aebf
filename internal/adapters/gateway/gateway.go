// Package gateway is the WebSocket edge: it authenticates connections,
// translates wire frames into coordinator calls and acks, and feeds bus
// events back out. It holds no session state beyond the live connections.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/app"
	"github.com/soapboxhq/soapbox/internal/bus"
	"github.com/soapboxhq/soapbox/internal/domain"
	"github.com/soapboxhq/soapbox/internal/identity"
)

const (
	frameAck   = "ack"
	frameEvent = "event"

	maxFrameBytes = 32 * 1024
	writeTimeout  = 5 * time.Second

	// Control ops per connection per minute.
	defaultOpLimit = 60
	// Chat carries the bulk of traffic and gets a higher allowance.
	defaultChatLimit = 120
)

// Wire ops accepted from clients.
const (
	opPing         = "ping"
	opCreateRoom   = "create_room"
	opJoinRoom     = "join_room"
	opLeaveRoom    = "leave_room"
	opEndRoom      = "end_room"
	opPromoteUser  = "promote_user"
	opDemoteUser   = "demote_user"
	opGrantMic     = "grant_mic"
	opRevokeMic    = "revoke_mic"
	opRemoveUser   = "remove_user"
	opRequestMic   = "request_mic"
	opSendMessage  = "send_message"
	opRestoreState = "restore_room_state"
)

type inboundFrame struct {
	Op      string          `json:"op"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type wireError struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

type ackFrame struct {
	Type    string     `json:"type"`
	ID      string     `json:"id,omitempty"`
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *wireError `json:"error,omitempty"`
}

type eventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the WebSocket endpoint.
type Controller struct {
	coord    *app.Coordinator
	bus      bus.Bus
	verifier identity.Verifier
	validate *validator.Validate

	opLimiter   *SlidingLimiter
	chatLimiter *SlidingLimiter
}

func NewController(coord *app.Coordinator, b bus.Bus, verifier identity.Verifier) *Controller {
	return &Controller{
		coord:       coord,
		bus:         b,
		verifier:    verifier,
		validate:    validator.New(),
		opLimiter:   NewSlidingLimiter(defaultOpLimit, time.Minute),
		chatLimiter: NewSlidingLimiter(defaultChatLimit, time.Minute),
	}
}

// Handle authenticates and upgrades one connection, then pumps frames until
// the client goes away. The bearer credential rides the "token" query
// parameter or the Authorization header.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	userID, err := ctl.verifier.Verify(bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid credential"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	connID := domain.ConnectionID(uuid.NewString())
	conn := newConn(ws, connID, userID)
	ctl.bus.Attach(conn)

	log.Info().Str("module", "gateway").Str("conn_id", string(connID)).Str("user_id", string(userID)).Msg("connection open")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, conn)
	cancel()

	ctl.bus.Detach(conn)
	ctl.coord.HandleConnectionDrop(context.Background(), connID)
	ctl.opLimiter.Forget(string(connID))
	ctl.chatLimiter.Forget(string(connID))
	conn.close()

	log.Info().Str("module", "gateway").Str("conn_id", string(connID)).Msg("connection closed")
}

func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "gateway").Str("conn_id", string(c.id)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, c *wsConn, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		ctl.ack(c, "", nil, &app.Error{Code: app.CodeValidation, Message: "malformed frame"})
		return
	}

	limiter := ctl.opLimiter
	if frame.Op == opSendMessage {
		limiter = ctl.chatLimiter
	}
	if !limiter.Allow(string(c.id)) {
		ctl.ack(c, frame.ID, nil, &app.Error{Code: app.CodeRateLimited, Message: "rate limit exceeded"})
		return
	}

	switch frame.Op {
	case opPing:
		ctl.ack(c, frame.ID, gin.H{"pong": true}, nil)
	case opCreateRoom:
		ctl.handleCreateRoom(ctx, c, frame)
	case opJoinRoom:
		ctl.handleJoinRoom(ctx, c, frame)
	case opLeaveRoom:
		ctl.handleLeaveRoom(ctx, c, frame)
	case opEndRoom:
		ctl.handleEndRoom(ctx, c, frame)
	case opPromoteUser:
		ctl.handlePromote(ctx, c, frame)
	case opDemoteUser:
		ctl.handleDemote(ctx, c, frame)
	case opGrantMic:
		ctl.handleGrantMic(ctx, c, frame)
	case opRevokeMic:
		ctl.handleRevokeMic(ctx, c, frame)
	case opRemoveUser:
		ctl.handleRemoveUser(ctx, c, frame)
	case opRequestMic:
		ctl.handleRequestMic(ctx, c, frame)
	case opSendMessage:
		ctl.handleSendMessage(ctx, c, frame)
	case opRestoreState:
		ctl.handleRestoreState(ctx, c, frame)
	default:
		log.Warn().Str("module", "gateway").Str("op", frame.Op).Msg("unknown op")
		ctl.ack(c, frame.ID, nil, &app.Error{Code: app.CodeValidation, Message: "unknown op"})
	}
}

// ack writes the response frame for one op. A nil opErr means success.
func (ctl *Controller) ack(c *wsConn, id string, data any, opErr *app.Error) {
	frame := ackFrame{Type: frameAck, ID: id, Success: opErr == nil, Data: data}
	if opErr != nil {
		frame.Error = &wireError{Code: string(opErr.Code), Reason: opErr.Reason, Message: opErr.Message}
	}
	out, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("marshal ack")
		return
	}
	if err := c.trySend(out); err != nil {
		log.Warn().Err(err).Str("module", "gateway").Str("conn_id", string(c.id)).Msg("ack dropped")
	}
}

// fail converts any operation error into an ack error frame.
func (ctl *Controller) fail(c *wsConn, id string, err error) {
	if opErr, ok := app.AsError(err); ok {
		ctl.ack(c, id, nil, opErr)
		return
	}
	log.Error().Err(err).Str("module", "gateway").Msg("unclassified op failure")
	ctl.ack(c, id, nil, &app.Error{Code: app.CodeUpstream, Message: "internal error"})
}

// decode unmarshals and validates one op payload.
func (ctl *Controller) decode(frame inboundFrame, dst any) *app.Error {
	if len(frame.Payload) == 0 {
		return &app.Error{Code: app.CodeValidation, Message: "missing payload"}
	}
	if err := json.Unmarshal(frame.Payload, dst); err != nil {
		return &app.Error{Code: app.CodeValidation, Message: "malformed payload"}
	}
	if err := ctl.validate.Struct(dst); err != nil {
		return &app.Error{Code: app.CodeValidation, Message: err.Error()}
	}
	return nil
}
