package bus

import (
	"context"
	"sync"

	"github.com/soapboxhq/soapbox/internal/domain"
)

// Hub is the single-process fan-out core. It is a complete Bus on its own;
// RedisBus wraps it to span processes.
type Hub struct {
	mu         sync.RWMutex
	lobby      map[Sink]struct{}
	rooms      map[domain.RoomID]map[Sink]struct{}
	membership map[Sink]map[domain.RoomID]struct{}
}

func NewHub() *Hub {
	return &Hub{
		lobby:      make(map[Sink]struct{}),
		rooms:      make(map[domain.RoomID]map[Sink]struct{}),
		membership: make(map[Sink]map[domain.RoomID]struct{}),
	}
}

// Attach registers a connection with the lobby audience.
func (h *Hub) Attach(s Sink) {
	h.mu.Lock()
	h.lobby[s] = struct{}{}
	h.mu.Unlock()
}

// Detach removes a connection from the lobby and every room group.
func (h *Hub) Detach(s Sink) {
	h.mu.Lock()
	delete(h.lobby, s)
	for roomID := range h.membership[s] {
		h.removeFromRoom(s, roomID)
	}
	delete(h.membership, s)
	h.mu.Unlock()
}

// JoinRoom adds a connection to a room group. Adding twice is a no-op, so
// no event is ever duplicated to one connection.
func (h *Hub) JoinRoom(s Sink, roomID domain.RoomID) {
	h.mu.Lock()
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[Sink]struct{})
		h.rooms[roomID] = group
	}
	group[s] = struct{}{}
	if h.membership[s] == nil {
		h.membership[s] = make(map[domain.RoomID]struct{})
	}
	h.membership[s][roomID] = struct{}{}
	h.mu.Unlock()
}

// LeaveRoom removes a connection from a room group.
func (h *Hub) LeaveRoom(s Sink, roomID domain.RoomID) {
	h.mu.Lock()
	h.removeFromRoom(s, roomID)
	if m := h.membership[s]; m != nil {
		delete(m, roomID)
	}
	h.mu.Unlock()
}

func (h *Hub) removeFromRoom(s Sink, roomID domain.RoomID) {
	group, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(group, s)
	if len(group) == 0 {
		delete(h.rooms, roomID)
	}
}

// Publish delivers each intent to its local audience.
func (h *Hub) Publish(ctx context.Context, intents ...Intent) {
	for _, intent := range intents {
		h.deliverLocal(intent)
	}
}

func (h *Hub) deliverLocal(intent Intent) {
	for _, sink := range h.sinksFor(intent.Audience) {
		sink.Deliver(intent.Event, intent.Payload)
	}
}

func (h *Hub) sinksFor(audience Audience) []Sink {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Sink
	switch audience.Kind {
	case kindLobby:
		out = make([]Sink, 0, len(h.lobby))
		for s := range h.lobby {
			out = append(out, s)
		}
	case kindRoom:
		group := h.rooms[audience.RoomID]
		out = make([]Sink, 0, len(group))
		for s := range group {
			if audience.Except != "" && s.UserID() == audience.Except {
				continue
			}
			out = append(out, s)
		}
	case kindUser:
		for s := range h.rooms[audience.RoomID] {
			if s.UserID() == audience.UserID {
				out = append(out, s)
			}
		}
	}
	return out
}

// Evict empties a room's broadcast group.
func (h *Hub) Evict(ctx context.Context, roomID domain.RoomID) {
	h.mu.Lock()
	for s := range h.rooms[roomID] {
		if m := h.membership[s]; m != nil {
			delete(m, roomID)
		}
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()
}

// Expel removes every sink of one user from a room's broadcast group.
func (h *Hub) Expel(ctx context.Context, roomID domain.RoomID, userID domain.UserID) {
	h.mu.Lock()
	for s := range h.rooms[roomID] {
		if s.UserID() != userID {
			continue
		}
		h.removeFromRoom(s, roomID)
		if m := h.membership[s]; m != nil {
			delete(m, roomID)
		}
	}
	h.mu.Unlock()
}

// RoomSize reports the current local group size, for tests and health.
func (h *Hub) RoomSize(roomID domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close implements Bus; a local hub holds no external resources.
func (h *Hub) Close() error {
	return nil
}
