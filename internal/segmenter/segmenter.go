// Package segmenter turns a stream of PCM chunks from one connection into
// discrete utterance segments using voice activity detection.
//
// The segmenter is a two-state machine. In Idle the buffer is empty and
// non-speech input is ignored. A speech frame moves it to Accumulating; it
// returns to Idle on flush, which happens when either the buffer holds
// BufferFlushFrames frames or SilenceFlushFrames consecutive non-speech
// frames have arrived since the last speech frame. A flush emits exactly the
// buffered frames and carries nothing into the next segment.
//
// A Segmenter belongs to one connection and is not safe for concurrent use.
package segmenter

import (
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
	"github.com/MrWong99/voxgate/pkg/types"
)

// Defaults for [Config].
const (
	DefaultSampleRate         = 24000
	DefaultClassifyRate       = 16000
	DefaultWindow             = 30 * time.Millisecond
	DefaultSpeechRatio        = 0.3
	DefaultBufferFlushFrames  = 5
	DefaultSilenceFlushFrames = 10
)

// Config holds the segmenter constants. Zero fields take the defaults.
type Config struct {
	// SampleRate is the rate of incoming frames in Hz.
	SampleRate int

	// ClassifyRate is the rate frames are resampled to before classification.
	ClassifyRate int

	// Window is the duration of one classifier window.
	Window time.Duration

	// SpeechRatio is the fraction of speech windows a frame must exceed
	// (strictly) to count as speech.
	SpeechRatio float64

	// BufferFlushFrames caps the number of speech frames in one segment.
	BufferFlushFrames int

	// SilenceFlushFrames is the number of consecutive non-speech frames that
	// end an utterance.
	SilenceFlushFrames int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ClassifyRate <= 0 {
		c.ClassifyRate = DefaultClassifyRate
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.SpeechRatio <= 0 {
		c.SpeechRatio = DefaultSpeechRatio
	}
	if c.BufferFlushFrames <= 0 {
		c.BufferFlushFrames = DefaultBufferFlushFrames
	}
	if c.SilenceFlushFrames <= 0 {
		c.SilenceFlushFrames = DefaultSilenceFlushFrames
	}
	return c
}

// State is the segmenter's position in its state machine.
type State int

const (
	// Idle means the buffer is empty.
	Idle State = iota

	// Accumulating means at least one speech frame is buffered.
	Accumulating
)

// String returns the state name.
func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// Segmenter is the per-connection voice-activity state machine.
type Segmenter struct {
	cls           vad.Classifier
	cfg           Config
	windowSamples int

	buf    []types.Frame
	silent int
}

// New creates a Segmenter that classifies windows with cls.
func New(cls vad.Classifier, cfg Config) *Segmenter {
	cfg = cfg.withDefaults()
	return &Segmenter{
		cls:           cls,
		cfg:           cfg,
		windowSamples: int(int64(cfg.ClassifyRate) * int64(cfg.Window) / int64(time.Second)),
	}
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// Push classifies frame and feeds the result through the state machine. It
// returns the flushed segment and true when the frame completed one.
func (s *Segmenter) Push(frame types.Frame) (types.Segment, bool) {
	return s.Feed(frame, s.Classify(frame))
}

// Feed advances the state machine with an already classified frame.
func (s *Segmenter) Feed(frame types.Frame, speech bool) (types.Segment, bool) {
	if speech {
		s.buf = append(s.buf, frame)
		s.silent = 0
		if len(s.buf) >= s.cfg.BufferFlushFrames {
			return s.flush(), true
		}
		return types.Segment{}, false
	}

	if len(s.buf) == 0 {
		return types.Segment{}, false
	}
	s.silent++
	if s.silent >= s.cfg.SilenceFlushFrames {
		return s.flush(), true
	}
	return types.Segment{}, false
}

// Classify reports whether frame contains speech. The frame is converted to
// 16-bit PCM, resampled to the classify rate and split into whole windows;
// a trailing partial window is dropped. The frame is speech when the share of
// speech windows is strictly greater than the configured ratio. A window the
// classifier rejects with an error counts as non-speech.
func (s *Segmenter) Classify(frame types.Frame) bool {
	pcm := audio.ResampleLinear(audio.ToInt16(frame), s.cfg.SampleRate, s.cfg.ClassifyRate)

	windows, speech := 0, 0
	for i := 0; i+s.windowSamples <= len(pcm); i += s.windowSamples {
		windows++
		ok, err := s.cls.IsSpeech(pcm[i:i+s.windowSamples], s.cfg.ClassifyRate)
		if err == nil && ok {
			speech++
		}
	}
	return float64(speech)/float64(max(windows, 1)) > s.cfg.SpeechRatio
}

// Reset discards any buffered frames and returns to Idle.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.silent = 0
}

// State returns the current state.
func (s *Segmenter) State() State {
	if len(s.buf) == 0 {
		return Idle
	}
	return Accumulating
}

// Buffered returns the number of frames waiting in the buffer.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// SilentFrames returns the consecutive non-speech frames seen while
// accumulating.
func (s *Segmenter) SilentFrames() int { return s.silent }

func (s *Segmenter) flush() types.Segment {
	seg := types.Segment{Frames: s.buf, SampleRate: s.cfg.SampleRate}
	s.buf = nil
	s.silent = 0
	return seg
}
