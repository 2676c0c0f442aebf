package bus

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/domain"
)

const eventsChannel = "soapbox.events"

const (
	envelopeEvent = "event"
	envelopeEvict = "evict"
	envelopeExpel = "expel"
)

// envelope is the wire form of a replicated intent. Origin lets a process
// skip its own publishes so local delivery never doubles up.
type envelope struct {
	Origin   string          `json:"origin"`
	Kind     string          `json:"kind"`
	Audience Audience        `json:"audience,omitempty"`
	Event    string          `json:"event,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	RoomID   domain.RoomID   `json:"room_id,omitempty"`
	UserID   domain.UserID   `json:"user_id,omitempty"`
}

// RedisBus replicates hub traffic across processes through a shared Redis
// pub/sub channel. If Redis is unreachable the bus degrades to local-only
// delivery; connectivity loss is logged, never fatal.
type RedisBus struct {
	hub    *Hub
	rdb    *redis.Client
	origin string
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBus wraps hub with cross-process replication. The subscriber
// goroutine runs until Close.
func NewRedisBus(ctx context.Context, hub *Hub, rdb *redis.Client) *RedisBus {
	b := &RedisBus{
		hub:    hub,
		rdb:    rdb,
		origin: uuid.NewString(),
		pubsub: rdb.Subscribe(ctx, eventsChannel),
		done:   make(chan struct{}),
	}
	go b.receive()
	return b
}

func (b *RedisBus) Attach(s Sink) { b.hub.Attach(s) }
func (b *RedisBus) Detach(s Sink) { b.hub.Detach(s) }

func (b *RedisBus) JoinRoom(s Sink, roomID domain.RoomID)  { b.hub.JoinRoom(s, roomID) }
func (b *RedisBus) LeaveRoom(s Sink, roomID domain.RoomID) { b.hub.LeaveRoom(s, roomID) }

// Publish delivers locally first, then replicates. A replication failure
// only costs remote delivery, never the operation.
func (b *RedisBus) Publish(ctx context.Context, intents ...Intent) {
	b.hub.Publish(ctx, intents...)
	for _, intent := range intents {
		payload, err := json.Marshal(intent.Payload)
		if err != nil {
			log.Error().Err(err).Str("module", "bus").Str("event", intent.Event).Msg("marshal intent payload")
			continue
		}
		b.send(ctx, envelope{
			Origin:   b.origin,
			Kind:     envelopeEvent,
			Audience: intent.Audience,
			Event:    intent.Event,
			Payload:  payload,
		})
	}
}

// Evict empties the local group and tells every other process to do the
// same.
func (b *RedisBus) Evict(ctx context.Context, roomID domain.RoomID) {
	b.hub.Evict(ctx, roomID)
	b.send(ctx, envelope{
		Origin: b.origin,
		Kind:   envelopeEvict,
		RoomID: roomID,
	})
}

// Expel removes the user locally and tells every other process to do the
// same.
func (b *RedisBus) Expel(ctx context.Context, roomID domain.RoomID, userID domain.UserID) {
	b.hub.Expel(ctx, roomID, userID)
	b.send(ctx, envelope{
		Origin: b.origin,
		Kind:   envelopeExpel,
		RoomID: roomID,
		UserID: userID,
	})
}

func (b *RedisBus) send(ctx context.Context, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "bus").Msg("marshal envelope")
		return
	}
	if err := b.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		log.Warn().Err(err).Str("module", "bus").Msg("redis publish failed, delivering locally only")
	}
}

func (b *RedisBus) receive() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Str("module", "bus").Msg("bad envelope on events channel")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			switch env.Kind {
			case envelopeEvent:
				b.hub.deliverLocal(Intent{
					Audience: env.Audience,
					Event:    env.Event,
					Payload:  env.Payload,
				})
			case envelopeEvict:
				b.hub.Evict(context.Background(), env.RoomID)
			case envelopeExpel:
				b.hub.Expel(context.Background(), env.RoomID, env.UserID)
			}
		}
	}
}

// Ping reports shared-channel reachability, for health checks.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close stops the subscriber. The wrapped hub needs no teardown.
func (b *RedisBus) Close() error {
	close(b.done)
	return b.pubsub.Close()
}
