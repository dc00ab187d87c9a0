// Package mock provides a test double for [vad.Classifier].
//
// Classifier answers from a scripted sequence or a predicate and records every
// window it was asked about.
//
// Example:
//
//	cls := &mock.Classifier{Func: func(w []int16) bool { return w[0] != 0 }}
package mock

import (
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// Call records a single invocation of Classifier.IsSpeech.
type Call struct {
	// Len is the window length in samples.
	Len int

	// SampleRate is the rate passed to IsSpeech.
	SampleRate int
}

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Results is consumed in order, one entry per call. When exhausted, Func
	// (if set) or Default is used.
	Results []bool

	// Func, if set, decides windows once Results is exhausted.
	Func func(window []int16) bool

	// Default is returned when neither Results nor Func applies.
	Default bool

	// Err, if non-nil, is returned from every call.
	Err error

	// Calls records every call in order.
	Calls []Call
}

// IsSpeech records the call and returns the scripted answer.
func (c *Classifier) IsSpeech(window []int16, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, Call{Len: len(window), SampleRate: sampleRate})
	if c.Err != nil {
		return false, c.Err
	}
	if len(c.Results) > 0 {
		r := c.Results[0]
		c.Results = c.Results[1:]
		return r, nil
	}
	if c.Func != nil {
		return c.Func(window), nil
	}
	return c.Default, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears recorded calls. Thread-safe.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

var _ vad.Classifier = (*Classifier)(nil)
