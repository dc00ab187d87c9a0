// Package session holds per-client conversation state for the gateway.
//
// A session is keyed by the caller-supplied client ID and outlives any single
// WebSocket connection: it is created by a config request or implicitly on
// first connect, and removed only by an explicit end or by the expiry sweep.
//
// The [Store] is safe for concurrent use by many connection goroutines and the
// sweeper. Every read-modify-write on one client runs under that client's
// shard lock; unrelated clients do not contend.
package session

import (
	"slices"
	"time"

	"github.com/MrWong99/voxgate/internal/keyed"
	"github.com/MrWong99/voxgate/pkg/types"
)

// DefaultTimeout is the idle period after which the sweep removes a session.
const DefaultTimeout = 7200 * time.Second

// Session is a point-in-time snapshot of one client's state. Mutating a
// snapshot does not affect the store.
type Session struct {
	ClientID     string
	Voice        types.Voice
	Paused       bool
	Processing   bool
	CreatedAt    time.Time
	LastActivity time.Time
	History      []types.Message
}

// Update carries the fields a config request may set. Zero fields leave the
// stored value untouched.
type Update struct {
	// Voice is the requested voice. An unknown voice is replaced by the
	// default; an empty one keeps the current selection.
	Voice types.Voice

	// Paused, if non-nil, sets the pause flag.
	Paused *bool
}

// Gate is the outcome of [Store.TryBeginProcessing].
type Gate int

const (
	// GateStarted means the processing flag was clear and is now set; the
	// caller owns the in-flight slot and must clear it with SetProcessing.
	GateStarted Gate = iota

	// GatePaused means the session is paused; nothing was changed.
	GatePaused

	// GateBusy means another inference for this client is in flight.
	GateBusy

	// GateAbsent means no session exists for the client.
	GateAbsent
)

// String returns the lower-case gate name used in logs and metric labels.
func (g Gate) String() string {
	switch g {
	case GateStarted:
		return "started"
	case GatePaused:
		return "paused"
	case GateBusy:
		return "busy"
	case GateAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// record is the mutable state behind a session. It is only touched while the
// owning shard lock is held.
type record struct {
	voice        types.Voice
	paused       bool
	processing   bool
	createdAt    time.Time
	lastActivity time.Time
	history      []types.Message
}

func (r *record) snapshot(id string) Session {
	return Session{
		ClientID:     id,
		Voice:        r.voice,
		Paused:       r.paused,
		Processing:   r.processing,
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
		History:      slices.Clone(r.history),
	}
}

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithClock overrides time.Now. Used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithVoices sets the enumerated voice set. Default: [types.DefaultVoices].
func WithVoices(v types.VoiceSet) Option {
	return func(s *Store) {
		s.voices = v
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(s *Store) {
		s.shards = n
	}
}

// WithEvictHook registers fn to receive the final snapshot of every session
// removed by [Store.Delete] or [Store.SweepExpired]. fn runs after the shard
// lock is released, on the caller's goroutine.
func WithEvictHook(fn func(Session)) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// Store is the concurrency-safe table of sessions.
type Store struct {
	m       *keyed.Map[*record]
	voices  types.VoiceSet
	now     func() time.Time
	shards  int
	onEvict func(Session)
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		voices: types.DefaultVoices,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.m = keyed.New[*record](s.shards)
	return s
}

// Voices returns the voice set the store validates against.
func (s *Store) Voices() types.VoiceSet { return s.voices }

// CreateOrUpdate upserts the session for id. CreatedAt is set only on first
// creation; LastActivity is always refreshed. Fields not supplied in u keep
// their previous values.
func (s *Store) CreateOrUpdate(id string, u Update) Session {
	now := s.now()
	var snap Session
	s.m.Compute(id, func(r *record, ok bool) (*record, bool) {
		if !ok {
			r = &record{voice: s.voices.Resolve(""), createdAt: now}
		}
		if u.Voice != "" {
			r.voice = s.voices.Resolve(u.Voice)
		}
		if u.Paused != nil {
			r.paused = *u.Paused
		}
		r.lastActivity = now
		snap = r.snapshot(id)
		return r, true
	})
	return snap
}

// Exists reports whether a session exists for id. It does not count as
// activity.
func (s *Store) Exists(id string) bool {
	_, ok := s.m.Load(id)
	return ok
}

// Get returns a snapshot of the session and refreshes its LastActivity.
func (s *Store) Get(id string) (Session, bool) {
	var snap Session
	found := s.mutate(id, func(r *record) {
		snap = r.snapshot(id)
	})
	return snap, found
}

// SetPaused sets the pause flag. It reports whether the session existed; an
// absent session is left absent.
func (s *Store) SetPaused(id string, paused bool) bool {
	return s.mutate(id, func(r *record) { r.paused = paused })
}

// SetProcessing sets the in-flight flag. An absent session is a no-op.
func (s *Store) SetProcessing(id string, processing bool) bool {
	return s.mutate(id, func(r *record) { r.processing = processing })
}

// TryBeginProcessing atomically checks the pause and processing flags and,
// when both are clear, sets processing. Only one caller per client can get
// [GateStarted] until the flag is cleared again.
func (s *Store) TryBeginProcessing(id string) Gate {
	gate := GateAbsent
	s.mutate(id, func(r *record) {
		switch {
		case r.paused:
			gate = GatePaused
		case r.processing:
			gate = GateBusy
		default:
			r.processing = true
			gate = GateStarted
		}
	})
	return gate
}

// ResolveVoice returns the session's voice if it is in the valid set, the
// default otherwise (including for an absent session).
func (s *Store) ResolveVoice(id string) types.Voice {
	v := s.voices.Default
	s.mutate(id, func(r *record) { v = s.voices.Resolve(r.voice) })
	return v
}

// AppendMessage adds a message to the session history. An absent session is
// a no-op.
func (s *Store) AppendMessage(id, text string, isUser bool) bool {
	return s.mutate(id, func(r *record) {
		r.history = append(r.history, types.Message{
			Text:      text,
			IsUser:    isUser,
			Timestamp: r.lastActivity,
		})
	})
}

// History returns a copy of the session's messages in insertion order, or
// nil for an absent session.
func (s *Store) History(id string) []types.Message {
	var out []types.Message
	s.mutate(id, func(r *record) { out = slices.Clone(r.history) })
	return out
}

// Delete removes the session together with its history. Deleting an absent
// session is a no-op. It reports whether a session was removed.
func (s *Store) Delete(id string) bool {
	var (
		snap    Session
		removed bool
	)
	s.m.Compute(id, func(r *record, ok bool) (*record, bool) {
		if ok {
			snap = r.snapshot(id)
			removed = true
		}
		return nil, false
	})
	if removed && s.onEvict != nil {
		s.onEvict(snap)
	}
	return removed
}

// SweepExpired removes every session whose LastActivity is strictly more
// than timeout before now and returns how many were removed.
func (s *Store) SweepExpired(now time.Time, timeout time.Duration) int {
	cutoff := now.Add(-timeout)
	var evicted []Session
	removed := s.m.DeleteFunc(func(id string, r *record) bool {
		if !r.lastActivity.Before(cutoff) {
			return false
		}
		if s.onEvict != nil {
			evicted = append(evicted, r.snapshot(id))
		}
		return true
	})
	for _, snap := range evicted {
		s.onEvict(snap)
	}
	return len(removed)
}

// Len returns the number of live sessions.
func (s *Store) Len() int { return s.m.Len() }

// mutate runs fn on the session under its shard lock and refreshes
// LastActivity. It reports whether the session existed.
func (s *Store) mutate(id string, fn func(r *record)) bool {
	now := s.now()
	_, found := s.m.Compute(id, func(r *record, ok bool) (*record, bool) {
		if !ok {
			return nil, false
		}
		r.lastActivity = now
		fn(r)
		return r, true
	})
	return found
}
