// Package grace tracks pending-disconnection timers keyed by (user, room).
// It decouples "transport dropped" from "participant removed" so brief
// network blips do not disturb the roster.
package grace

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxhq/soapbox/internal/domain"
)

// Key identifies one pending disconnection. At most one live timer exists
// per key at any time.
type Key struct {
	UserID domain.UserID
	RoomID domain.RoomID
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.UserID, k.RoomID)
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Registry owns timer lifecycles and nothing else; on expiry it invokes the
// caller-provided finalize callback. Start/Cancel are safe to race against
// expiry: the expiry path re-checks registry membership (by generation)
// before firing, so a winning Cancel makes the scheduled callback a no-op.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	nextGen uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*entry)}
}

// Start arms a timer for key. An existing timer for the same key is
// cancelled first: last writer wins, never two live timers per key.
func (r *Registry) Start(key Key, delay time.Duration, onExpire func()) {
	r.mu.Lock()
	if prev, ok := r.entries[key]; ok {
		prev.timer.Stop()
	}
	r.nextGen++
	gen := r.nextGen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(delay, func() {
		if !r.claim(key, gen) {
			return
		}
		log.Info().Str("module", "grace").Str("key", key.String()).Msg("grace period expired")
		onExpire()
	})
	r.entries[key] = e
	r.mu.Unlock()

	log.Info().Str("module", "grace").Str("key", key.String()).Dur("delay", delay).Msg("grace period started")
}

// claim removes the entry iff it still belongs to this generation, i.e. it
// has not been cancelled or superseded since the timer was armed.
func (r *Registry) claim(key Key, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, key)
	return true
}

// Cancel stops and removes the timer for key if present, reporting whether
// one was found.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		e.timer.Stop()
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok {
		log.Info().Str("module", "grace").Str("key", key.String()).Msg("grace period cancelled")
	}
	return ok
}

// Has is a non-mutating existence check.
func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Len reports the number of outstanding timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ClearAll cancels every outstanding timer. Used at process shutdown only.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	for key, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, key)
	}
	r.mu.Unlock()
	log.Info().Str("module", "grace").Msg("all grace periods cleared")
}
