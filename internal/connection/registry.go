// Package connection tracks the single live duplex connection per client and
// delivers ordered bursts of outbound frames to it.
//
// The registry maps a client ID to a [Handle] plus a cached voice selection.
// A new connect for a client replaces the previous handle; the displaced
// handle is returned so the caller can close it. Sending goes through the
// handle's bounded outbound queue, so the frames of one burst reach the
// socket contiguously and in order.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxgate/internal/keyed"
	"github.com/MrWong99/voxgate/pkg/types"
)

var (
	// ErrNotConnected is returned when no handle is registered for a client.
	ErrNotConnected = errors.New("connection: client not connected")

	// ErrClosed is returned when sending on a handle that has been closed.
	ErrClosed = errors.New("connection: closed")
)

// Handle is one live duplex connection.
type Handle interface {
	// ID uniquely identifies this connection (not the client).
	ID() string

	// Enqueue queues burst for delivery as one contiguous, ordered unit. It
	// blocks while the outbound queue is full and returns [ErrClosed] once
	// the handle is closed.
	Enqueue(ctx context.Context, burst []Frame) error

	// Close shuts the connection down. Safe to call more than once.
	Close(reason string)

	// Done is closed when the connection has shut down.
	Done() <-chan struct{}
}

type entry struct {
	handle Handle
	voice  types.Voice
}

// Registry is the concurrency-safe table of live connections.
type Registry struct {
	m      *keyed.Map[entry]
	voices types.VoiceSet
}

// NewRegistry creates an empty Registry. Cached voices are validated against
// voices.
func NewRegistry(voices types.VoiceSet, shards int) *Registry {
	return &Registry{
		m:      keyed.New[entry](shards),
		voices: voices,
	}
}

// Connect registers h for id with the default voice. It returns the handle it
// replaced, or nil; closing that handle is the caller's job.
func (r *Registry) Connect(id string, h Handle) Handle {
	var prev Handle
	r.m.Compute(id, func(cur entry, ok bool) (entry, bool) {
		if ok {
			prev = cur.handle
		}
		return entry{handle: h, voice: r.voices.Default}, true
	})
	return prev
}

// Disconnect removes the handle and cached voice for id. It is a no-op when
// nothing is registered.
func (r *Registry) Disconnect(id string) {
	r.m.Delete(id)
}

// Release removes the registration for id only if h is still the registered
// handle. A replaced connection's cleanup must not unregister its successor.
func (r *Registry) Release(id string, h Handle) bool {
	released := false
	r.m.Compute(id, func(cur entry, ok bool) (entry, bool) {
		if ok && cur.handle == h {
			released = true
			return entry{}, false
		}
		return cur, ok
	})
	return released
}

// IsRegistered reports whether a handle is registered for id.
func (r *Registry) IsRegistered(id string) bool {
	_, ok := r.m.Load(id)
	return ok
}

// Handle returns the registered handle for id.
func (r *Registry) Handle(id string) (Handle, bool) {
	e, ok := r.m.Load(id)
	return e.handle, ok
}

// GetVoice returns the cached voice for id, or the default when nothing is
// registered.
func (r *Registry) GetVoice(id string) types.Voice {
	if e, ok := r.m.Load(id); ok {
		return e.voice
	}
	return r.voices.Default
}

// SetVoice caches v (coerced to the valid set) for id. It reports whether a
// connection was registered.
func (r *Registry) SetVoice(id string, v types.Voice) bool {
	found := false
	r.m.Compute(id, func(cur entry, ok bool) (entry, bool) {
		if ok {
			cur.voice = r.voices.Resolve(v)
			found = true
		}
		return cur, ok
	})
	return found
}

// SendOrdered queues frames as one burst on the handle registered for id.
// A missing handle yields [ErrNotConnected]; a closed one [ErrClosed]. Callers
// treat either as a disconnect.
func (r *Registry) SendOrdered(ctx context.Context, id string, frames ...Frame) error {
	h, ok := r.Handle(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	if err := h.Enqueue(ctx, frames); err != nil {
		return fmt.Errorf("connection: send to %s: %w", id, err)
	}
	return nil
}

// Len returns the number of registered connections.
func (r *Registry) Len() int { return r.m.Len() }
