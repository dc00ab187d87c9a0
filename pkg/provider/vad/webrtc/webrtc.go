// Package webrtc provides a [vad.Classifier] backed by the WebRTC voice
// activity detector (github.com/maxhawkins/go-webrtcvad).
//
// The detector is a GMM over sub-band energies and is far less sensitive to
// steady background noise than an RMS gate. It requires cgo; the C sources
// are bundled with the Go module, so no system library is needed.
//
// A detector instance carries filter state and must not be shared between
// goroutines, so the classifier keeps a pool of instances configured with
// the same mode.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// Aggressiveness modes. Higher modes reject more non-speech at the cost of
// clipping quiet speech.
const (
	ModeQuality        = 0
	ModeLowBitrate     = 1
	ModeAggressive     = 2
	ModeVeryAggressive = 3
)

// DefaultMode is the mode used when none is configured.
const DefaultMode = ModeVeryAggressive

// ErrMode is returned by [New] for a mode outside 0..3.
var ErrMode = errors.New("webrtc vad: mode must be between 0 and 3")

// Option is a functional option for [Classifier].
type Option func(*Classifier)

// WithMode sets the aggressiveness mode.
func WithMode(mode int) Option {
	return func(c *Classifier) {
		c.mode = mode
	}
}

// Classifier is a WebRTC voice classifier. It is safe for concurrent use.
type Classifier struct {
	mode int
	pool sync.Pool
}

var _ vad.Classifier = (*Classifier)(nil)

// New creates a Classifier. It builds one detector up front so that an
// invalid mode or a broken cgo build fails at startup rather than on the
// first frame.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{mode: DefaultMode}
	for _, o := range opts {
		o(c)
	}
	if c.mode < ModeQuality || c.mode > ModeVeryAggressive {
		return nil, fmt.Errorf("%w: got %d", ErrMode, c.mode)
	}

	d, err := c.newDetector()
	if err != nil {
		return nil, err
	}
	c.pool.Put(d)
	return c, nil
}

// Mode returns the configured aggressiveness mode.
func (c *Classifier) Mode() int { return c.mode }

// IsSpeech implements [vad.Classifier].
func (c *Classifier) IsSpeech(window []int16, sampleRate int) (bool, error) {
	if err := vad.ValidateWindow(len(window), sampleRate); err != nil {
		return false, err
	}

	d, ok := c.pool.Get().(*webrtcvad.VAD)
	if !ok {
		var err error
		if d, err = c.newDetector(); err != nil {
			return false, err
		}
	}
	defer c.pool.Put(d)

	speech, err := d.Process(sampleRate, audio.Int16ToBytes(window))
	if err != nil {
		return false, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return speech, nil
}

func (c *Classifier) newDetector() (*webrtcvad.VAD, error) {
	d, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := d.SetMode(c.mode); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", c.mode, err)
	}
	return d, nil
}
