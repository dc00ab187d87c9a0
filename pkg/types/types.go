// Package types defines the shared types used across voxgate packages.
//
// These types form the lingua franca between the segmenter, the session store,
// the connection registry, the orchestrator, and the inference providers. Each
// package defines its own domain types; cross-cutting data structures live here
// to avoid circular imports.
package types

import (
	"slices"
	"time"
)

// Voice names a speaker voice offered by the inference backend.
type Voice string

const (
	// VoiceChelsie is the default female voice.
	VoiceChelsie Voice = "Chelsie"

	// VoiceEthan is the male voice.
	VoiceEthan Voice = "Ethan"
)

// DefaultVoices is the voice catalogue used when the configuration does not
// override it.
var DefaultVoices = VoiceSet{
	Available: []Voice{VoiceChelsie, VoiceEthan},
	Default:   VoiceChelsie,
}

// VoiceSet is the enumerated set of valid voices plus the fallback used for
// anything outside it. The zero value accepts nothing and resolves to "".
type VoiceSet struct {
	// Available lists every voice the backend understands.
	Available []Voice

	// Default is returned by [VoiceSet.Resolve] for unknown voices.
	Default Voice
}

// Contains reports whether v is a member of the set.
func (s VoiceSet) Contains(v Voice) bool {
	return slices.Contains(s.Available, v)
}

// Resolve returns v when it is a member of the set and the default otherwise.
func (s VoiceSet) Resolve(v Voice) Voice {
	if s.Contains(v) {
		return v
	}
	return s.Default
}

// Message is one entry in a client's conversation history.
type Message struct {
	// Text is the spoken or generated text.
	Text string `json:"text"`

	// IsUser is true for client utterances and false for assistant replies.
	IsUser bool `json:"isUser"`

	// Timestamp is when the entry was appended.
	Timestamp time.Time `json:"timestamp"`
}

// Frame is a fixed-duration slice of mono PCM audio with samples in [-1, 1].
type Frame []float32

// Segment is an ordered run of equal-duration frames judged to contain one
// utterance. A Segment is produced once and consumed once.
type Segment struct {
	// Frames holds the buffered frames in arrival order.
	Frames []Frame

	// SampleRate is the rate of every frame in Hz.
	SampleRate int
}

// Len returns the number of frames in the segment.
func (s Segment) Len() int { return len(s.Frames) }

// Samples concatenates all frames into one contiguous buffer.
func (s Segment) Samples() []float32 {
	n := 0
	for _, f := range s.Frames {
		n += len(f)
	}
	out := make([]float32, 0, n)
	for _, f := range s.Frames {
		out = append(out, f...)
	}
	return out
}

// Duration returns the playback duration of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	n := 0
	for _, f := range s.Frames {
		n += len(f)
	}
	return time.Duration(n) * time.Second / time.Duration(s.SampleRate)
}
