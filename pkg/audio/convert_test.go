package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
)

func TestFloat32RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 0.123456}
	got, err := audio.BytesToFloat32(audio.Float32ToBytes(in))
	if err != nil {
		t.Fatalf("BytesToFloat32: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], in[i])
		}
	}
}

func TestBytesToFloat32_Misaligned(t *testing.T) {
	_, err := audio.BytesToFloat32([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestToInt16_Clamping(t *testing.T) {
	got := audio.ToInt16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32768, 32767, -32768, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestInt16BytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.BytesToInt16(audio.Int16ToBytes(in))
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestBytesToInt16_OddTrailingByteIgnored(t *testing.T) {
	got := audio.BytesToInt16([]byte{0x01, 0x00, 0xff})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}

func TestResampleLinear_SameRate(t *testing.T) {
	in := []int16{1, 2, 3}
	got := audio.ResampleLinear(in, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("same-rate resample should return the input slice")
	}
}

func TestResampleLinear_Downsample(t *testing.T) {
	// 24 kHz → 16 kHz: 720 samples (30ms) become 480.
	in := make([]int16, 720)
	for i := range in {
		in[i] = int16(1000 * math.Sin(float64(i)/10))
	}
	got := audio.ResampleLinear(in, 24000, 16000)
	if len(got) != 480 {
		t.Fatalf("len = %d, want 480", len(got))
	}
	if got[0] != in[0] {
		t.Errorf("first sample = %d, want %d", got[0], in[0])
	}
}

func TestResampleLinear_Upsample(t *testing.T) {
	in := []int16{0, 100}
	got := audio.ResampleLinear(in, 8000, 16000)
	want := []int16{0, 50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleLinear_InvalidRates(t *testing.T) {
	in := []int16{1, 2}
	if got := audio.ResampleLinear(in, 0, 16000); len(got) != 2 {
		t.Errorf("zero src rate should pass through, got len %d", len(got))
	}
	if got := audio.ResampleLinear(in, 16000, -1); len(got) != 2 {
		t.Errorf("negative dst rate should pass through, got len %d", len(got))
	}
}

func TestResample_Whole(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	out, err := audio.Resample(audio.PCM{Samples: in, SampleRate: 48000}, 24000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", out.SampleRate)
	}
	if len(out.Samples) == 0 || len(out.Samples) > 2400 {
		t.Errorf("len = %d, want (0, 2400]", len(out.Samples))
	}
	for i, s := range out.Samples {
		if s > 1 || s < -1 {
			t.Fatalf("sample %d out of range: %v", i, s)
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2}
	out, err := audio.Resample(audio.PCM{Samples: in, SampleRate: 24000}, 24000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out.Samples) != 2 || out.SampleRate != 24000 {
		t.Errorf("got %+v, want passthrough", out)
	}
}

func TestResample_InvalidRates(t *testing.T) {
	if _, err := audio.Resample(audio.PCM{Samples: []float32{0}, SampleRate: 16000}, 0); err == nil {
		t.Error("expected error for zero target rate")
	}
	if _, err := audio.Resample(audio.PCM{Samples: []float32{0}, SampleRate: 0}, 16000); err == nil {
		t.Error("expected error for zero source rate")
	}
}
