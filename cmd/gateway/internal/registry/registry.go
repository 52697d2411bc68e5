// Package registry tracks which instruments are being watched and by how many
// consumers. It is the single source of truth for upstream feed subscriptions.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is one consumer's claim on an instrument. Releasing it drops the claim.
type Handle struct {
	id         uuid.UUID
	instrument string
	once       sync.Once
	release    func(*Handle)
}

func (h *Handle) ID() uuid.UUID      { return h.id }
func (h *Handle) Instrument() string { return h.instrument }

// Release drops the claim. Only the first call has an effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release(h)
		}
	})
}

// Bind attaches the function Release calls.
func (h *Handle) Bind(release func(*Handle)) { h.release = release }

// Subscription is the shared state of one watched instrument.
type Subscription struct {
	Instrument string
	RefCount   int
	Since      time.Time
}

// Registry maps instruments to reference counts. It does not lock; the
// engine goroutine owns it.
type Registry struct {
	subs    map[string]*Subscription
	handles map[uuid.UUID]string
}

func New() *Registry {
	return &Registry{
		subs:    make(map[string]*Subscription),
		handles: make(map[uuid.UUID]string),
	}
}

// Acquire adds a reference. first is true when the instrument had no watchers.
func (r *Registry) Acquire(instrument string, now time.Time) (h *Handle, first bool) {
	sub, ok := r.subs[instrument]
	if !ok {
		sub = &Subscription{Instrument: instrument, Since: now}
		r.subs[instrument] = sub
		first = true
	}
	sub.RefCount++

	h = &Handle{id: uuid.New(), instrument: instrument}
	r.handles[h.id] = instrument
	return h, first
}

// Release drops the reference held by h. last is true when the instrument
// lost its final watcher. ok is false for unknown or already released handles.
func (r *Registry) Release(h *Handle) (instrument string, last bool, ok bool) {
	instrument, ok = r.handles[h.id]
	if !ok {
		return "", false, false
	}
	delete(r.handles, h.id)

	sub := r.subs[instrument]
	sub.RefCount--
	if sub.RefCount <= 0 {
		delete(r.subs, instrument)
		return instrument, true, true
	}
	return instrument, false, true
}

// Count returns the reference count of an instrument.
func (r *Registry) Count(instrument string) int {
	if sub, ok := r.subs[instrument]; ok {
		return sub.RefCount
	}
	return 0
}

func (r *Registry) IsWatched(instrument string) bool {
	_, ok := r.subs[instrument]
	return ok
}

// Instruments lists watched instruments in sorted order.
func (r *Registry) Instruments() []string {
	out := make([]string, 0, len(r.subs))
	for inst := range r.subs {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.subs) }
