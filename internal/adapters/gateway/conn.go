package gateway

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn is one live client connection. It is the bus sink for its user:
// events are marshalled here and queued on the buffered send channel that
// writePump drains. A full channel drops the frame rather than blocking the
// publisher.
type wsConn struct {
	ws     *websocket.Conn
	id     domain.ConnectionID
	userID domain.UserID
	send   chan []byte

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn, id domain.ConnectionID, userID domain.UserID) *wsConn {
	return &wsConn{
		ws:     ws,
		id:     id,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (c *wsConn) UserID() domain.UserID {
	return c.userID
}

// Deliver implements the bus sink: wrap the payload in an event frame and
// queue it.
func (c *wsConn) Deliver(event string, payload any) {
	data, err := json.Marshal(eventFrame{Type: frameEvent, Event: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("event", event).Msg("marshal event frame")
		return
	}
	if err := c.trySend(data); err != nil {
		log.Warn().Err(err).Str("module", "gateway").Str("conn_id", string(c.id)).Str("event", event).Msg("event dropped")
	}
}

func (c *wsConn) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}
