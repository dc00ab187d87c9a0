package segmenter_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxgate/internal/segmenter"
	"github.com/MrWong99/voxgate/pkg/provider/vad/mock"
	"github.com/MrWong99/voxgate/pkg/types"
)

// frameSamples is 30ms at the default 24 kHz input rate.
const frameSamples = 720

func speechFrame() types.Frame {
	f := make(types.Frame, frameSamples)
	for i := range f {
		f[i] = 0.5
	}
	return f
}

func silenceFrame() types.Frame {
	return make(types.Frame, frameSamples)
}

// loudness treats any non-zero window as speech.
func loudness() *mock.Classifier {
	return &mock.Classifier{Func: func(w []int16) bool { return w[0] != 0 }}
}

func TestPush_FiveSpeechFramesFlushOnce(t *testing.T) {
	t.Parallel()
	s := segmenter.New(loudness(), segmenter.Config{})

	var segs []types.Segment
	for range 5 {
		if seg, ok := s.Push(speechFrame()); ok {
			segs = append(segs, seg)
		}
	}

	if len(segs) != 1 {
		t.Fatalf("flushes = %d, want 1", len(segs))
	}
	if segs[0].Len() != 5 {
		t.Errorf("segment frames = %d, want 5", segs[0].Len())
	}
	if segs[0].SampleRate != segmenter.DefaultSampleRate {
		t.Errorf("segment rate = %d", segs[0].SampleRate)
	}
	if s.Buffered() != 0 || s.State() != segmenter.Idle {
		t.Errorf("after flush: buffered=%d state=%v", s.Buffered(), s.State())
	}
}

func TestPush_SpeechThenSilenceFlushesOnTenthSilentFrame(t *testing.T) {
	t.Parallel()
	s := segmenter.New(loudness(), segmenter.Config{})

	for i := range 3 {
		if _, ok := s.Push(speechFrame()); ok {
			t.Fatalf("unexpected flush on speech frame %d", i+1)
		}
	}
	if s.State() != segmenter.Accumulating {
		t.Fatalf("state = %v, want accumulating", s.State())
	}

	for i := 1; i <= 10; i++ {
		seg, ok := s.Push(silenceFrame())
		if i < 10 {
			if ok {
				t.Fatalf("flushed early on silent frame %d", i)
			}
			continue
		}
		if !ok {
			t.Fatal("no flush on the 10th silent frame")
		}
		if seg.Len() != 3 {
			t.Errorf("segment frames = %d, want the 3 speech frames", seg.Len())
		}
	}
	if s.State() != segmenter.Idle || s.SilentFrames() != 0 {
		t.Errorf("after flush: state=%v silent=%d", s.State(), s.SilentFrames())
	}
}

func TestPush_SilenceFromIdleNeverFlushes(t *testing.T) {
	t.Parallel()
	s := segmenter.New(loudness(), segmenter.Config{})

	for range 20 {
		if _, ok := s.Push(silenceFrame()); ok {
			t.Fatal("silent stream must not flush")
		}
	}
	if s.State() != segmenter.Idle || s.SilentFrames() != 0 {
		t.Errorf("state=%v silent=%d, want idle/0", s.State(), s.SilentFrames())
	}
}

func TestFeed_SpeechResetsSilentCount(t *testing.T) {
	t.Parallel()
	s := segmenter.New(&mock.Classifier{}, segmenter.Config{})
	f := speechFrame()

	s.Feed(f, true)
	for range 9 {
		if _, ok := s.Feed(f, false); ok {
			t.Fatal("unexpected flush")
		}
	}
	s.Feed(f, true) // silent count back to 0, buffer = 2
	if s.SilentFrames() != 0 {
		t.Fatalf("silent = %d, want 0", s.SilentFrames())
	}
	for i := 1; i <= 10; i++ {
		seg, ok := s.Feed(f, false)
		if ok != (i == 10) {
			t.Fatalf("silent frame %d: flushed=%v", i, ok)
		}
		if ok && seg.Len() != 2 {
			t.Errorf("segment frames = %d, want 2", seg.Len())
		}
	}
}

func TestFeed_NoOverlapBetweenSegments(t *testing.T) {
	t.Parallel()
	s := segmenter.New(&mock.Classifier{}, segmenter.Config{BufferFlushFrames: 2})

	frames := []types.Frame{{1}, {2}, {3}, {4}}
	var got []types.Segment
	for _, f := range frames {
		if seg, ok := s.Feed(f, true); ok {
			got = append(got, seg)
		}
	}
	if len(got) != 2 {
		t.Fatalf("segments = %d, want 2", len(got))
	}
	if got[0].Frames[0][0] != 1 || got[0].Frames[1][0] != 2 {
		t.Errorf("first segment = %v", got[0].Frames)
	}
	if got[1].Frames[0][0] != 3 || got[1].Frames[1][0] != 4 {
		t.Errorf("second segment = %v", got[1].Frames)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	s := segmenter.New(&mock.Classifier{}, segmenter.Config{})
	s.Feed(speechFrame(), true)
	s.Feed(silenceFrame(), false)
	s.Reset()
	if s.Buffered() != 0 || s.SilentFrames() != 0 || s.State() != segmenter.Idle {
		t.Errorf("after Reset: buffered=%d silent=%d state=%v", s.Buffered(), s.SilentFrames(), s.State())
	}
}

func TestClassify_Ratio(t *testing.T) {
	t.Parallel()
	// At 16 kHz input no resampling happens and 30ms is 480 samples.
	frame := make(types.Frame, 4*480)

	tests := []struct {
		name    string
		results []bool
		ratio   float64
		want    bool
	}{
		{name: "1 of 4 below 0.3", results: []bool{true, false, false, false}, want: false},
		{name: "2 of 4 above 0.3", results: []bool{true, true, false, false}, want: true},
		{name: "tie is non-speech", results: []bool{true, true, false, false}, ratio: 0.5, want: false},
		{name: "all speech", results: []bool{true, true, true, true}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := &mock.Classifier{Results: tt.results}
			s := segmenter.New(cls, segmenter.Config{SampleRate: 16000, SpeechRatio: tt.ratio})
			if got := s.Classify(frame); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
			if cls.CallCount() != 4 {
				t.Errorf("classifier calls = %d, want 4", cls.CallCount())
			}
		})
	}
}

func TestClassify_TrailingWindowDiscarded(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Default: true}
	s := segmenter.New(cls, segmenter.Config{SampleRate: 16000})

	s.Classify(make(types.Frame, 2*480+40))
	if cls.CallCount() != 2 {
		t.Errorf("classifier calls = %d, want 2 whole windows", cls.CallCount())
	}
	for _, c := range cls.Calls {
		if c.Len != 480 || c.SampleRate != 16000 {
			t.Errorf("call = %+v, want 480 samples at 16 kHz", c)
		}
	}
}

func TestClassify_ShortFrameIsSilence(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Default: true}
	s := segmenter.New(cls, segmenter.Config{SampleRate: 16000})

	if s.Classify(make(types.Frame, 100)) {
		t.Error("frame shorter than one window should be non-speech")
	}
	if cls.CallCount() != 0 {
		t.Errorf("classifier calls = %d, want 0", cls.CallCount())
	}
}

func TestClassify_ErrorsCountAsNonSpeech(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Err: errors.New("bad window")}
	s := segmenter.New(cls, segmenter.Config{SampleRate: 16000})
	if s.Classify(make(types.Frame, 3*480)) {
		t.Error("classifier errors should yield non-speech")
	}
}

func TestClassify_ResamplesToClassifyRate(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Default: true}
	s := segmenter.New(cls, segmenter.Config{SampleRate: 48000})

	// 60ms at 48 kHz → 960 samples at 16 kHz → 2 windows.
	if !s.Classify(make(types.Frame, 2880)) {
		t.Error("expected speech")
	}
	if cls.CallCount() != 2 {
		t.Errorf("classifier calls = %d, want 2", cls.CallCount())
	}
}
