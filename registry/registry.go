// Package registry tracks the set of currently-open subscriber channels
// inside the relay process. It is the single source of truth for who
// receives broadcasts right now.
package registry

import (
	"context"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Channel is one live subscriber connection as seen by the registry. The
// registry owns nothing about the transport; it only needs to hand payloads
// to a channel and shut it down when a send fails.
type Channel interface {
	// Send enqueues one encoded envelope for delivery. It must not block
	// indefinitely: a slow subscriber returns an error instead of stalling
	// the broadcast.
	Send(ctx context.Context, payload []byte) error

	// Close tears the channel down with the given close code and reason.
	// Safe to call multiple times.
	Close(code int, reason string)
}

// Handle identifies one registry entry. Handles are process-unique and never
// reused, so a reconnect is indistinguishable from a brand-new subscriber.
type Handle uint64

// Entry pairs a registered channel with its handle so broadcast failures can
// unregister the exact entry they came from.
type Entry struct {
	Handle  Handle
	Channel Channel
}

// Registry is a concurrent set of subscriber channels supporting register,
// idempotent unregister, and point-in-time snapshots. A snapshot never
// observes partially-committed membership; channels added or removed after a
// snapshot is taken do not affect broadcasts already iterating it.
type Registry struct {
	channels *xsync.Map[Handle, Channel]
	nextID   atomic.Uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		channels: xsync.NewMap[Handle, Channel](),
	}
}

// Register adds a channel and returns its handle. Registration happens
// exactly once per channel, at handshake acceptance, so double-registration
// is impossible by construction.
func (r *Registry) Register(ch Channel) Handle {
	h := Handle(r.nextID.Add(1))
	r.channels.Store(h, ch)
	subscribersActive.Set(float64(r.channels.Size()))
	return h
}

// Unregister removes the entry for h. Removing an already-absent handle is a
// no-op, not an error.
func (r *Registry) Unregister(h Handle) {
	r.channels.Delete(h)
	subscribersActive.Set(float64(r.channels.Size()))
}

// Snapshot returns the registered channels at call time.
func (r *Registry) Snapshot() []Entry {
	entries := make([]Entry, 0, r.channels.Size())
	r.channels.Range(func(h Handle, ch Channel) bool {
		entries = append(entries, Entry{Handle: h, Channel: ch})
		return true
	})
	return entries
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	return r.channels.Size()
}
