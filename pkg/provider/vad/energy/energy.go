// Package energy provides a pure-Go [vad.Classifier] that labels a window as
// speech when its RMS level reaches a fixed threshold.
//
// It needs no model files or cgo, which makes it the classifier for builds
// without a C toolchain. Levels are measured on samples normalised to
// [-1, 1).
package energy

import (
	"math"

	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// DefaultThreshold is the RMS level at or above which a window counts as
// speech. It sits just above typical room noise for close-talk microphones.
const DefaultThreshold = 0.015

// Option is a functional option for [Classifier].
type Option func(*Classifier)

// WithThreshold overrides [DefaultThreshold]. Non-positive values are
// ignored.
func WithThreshold(t float64) Option {
	return func(c *Classifier) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// Classifier is an RMS energy voice classifier. It is stateless and safe for
// concurrent use.
type Classifier struct {
	threshold float64
}

var _ vad.Classifier = (*Classifier)(nil)

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{threshold: DefaultThreshold}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threshold returns the configured RMS threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// IsSpeech implements [vad.Classifier].
func (c *Classifier) IsSpeech(window []int16, sampleRate int) (bool, error) {
	if err := vad.ValidateWindow(len(window), sampleRate); err != nil {
		return false, err
	}
	return RMS(window) >= c.threshold, nil
}

// RMS returns the root-mean-square level of pcm normalised to [0, 1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
