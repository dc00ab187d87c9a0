package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	data, err := audio.EncodeWAV(audio.PCM{Samples: []float32{0, 0.5, -0.5}, SampleRate: 24000})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != 44+6 {
		t.Fatalf("len = %d, want 50", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad RIFF header: %q", data[:12])
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 24000 {
		t.Errorf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bits = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 6 {
		t.Errorf("data size = %d, want 6", got)
	}
}

func TestEncodeWAV_InvalidRate(t *testing.T) {
	if _, err := audio.EncodeWAV(audio.PCM{Samples: []float32{0}}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := audio.PCM{Samples: []float32{0, 0.25, -0.25, 0.5}, SampleRate: 16000}
	data, err := audio.EncodeWAV(in)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	out, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", out.SampleRate)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("len = %d, want %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if math.Abs(float64(out.Samples[i]-in.Samples[i])) > 1.0/16384 {
			t.Errorf("sample %d: got %v, want ≈%v", i, out.Samples[i], in.Samples[i])
		}
	}
}

// floatStereoWAV builds a 32-bit float stereo WAV with an extra LIST chunk
// before the data chunk.
func floatStereoWAV(rate int, frames [][2]float32) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	_ = binary.Write(&body, binary.LittleEndian, uint32(16))
	_ = binary.Write(&body, binary.LittleEndian, uint16(3))
	_ = binary.Write(&body, binary.LittleEndian, uint16(2))
	_ = binary.Write(&body, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&body, binary.LittleEndian, uint32(rate*8))
	_ = binary.Write(&body, binary.LittleEndian, uint16(8))
	_ = binary.Write(&body, binary.LittleEndian, uint16(32))
	body.WriteString("LIST")
	_ = binary.Write(&body, binary.LittleEndian, uint32(3))
	body.Write([]byte{'a', 'b', 'c', 0}) // odd size plus pad byte
	body.WriteString("data")
	_ = binary.Write(&body, binary.LittleEndian, uint32(len(frames)*8))
	for _, f := range frames {
		_ = binary.Write(&body, binary.LittleEndian, f[0])
		_ = binary.Write(&body, binary.LittleEndian, f[1])
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestDecodeWAV_FloatStereoDownmix(t *testing.T) {
	data := floatStereoWAV(8000, [][2]float32{{0.2, 0.4}, {-1, 1}})
	out, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	want := []float32{0.3, 0}
	if len(out.Samples) != len(want) {
		t.Fatalf("len = %d, want %d", len(out.Samples), len(want))
	}
	for i := range want {
		if math.Abs(float64(out.Samples[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, out.Samples[i], want[i])
		}
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "too short", data: []byte("RIFF"), want: audio.ErrDecode},
		{name: "not wave", data: []byte("RIFF\x00\x00\x00\x00AVI "), want: audio.ErrDecode},
		{name: "no data chunk", data: []byte("RIFF\x04\x00\x00\x00WAVE"), want: audio.ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := audio.DecodeWAV(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodec_DecodePCM(t *testing.T) {
	c := audio.NewCodec(audio.CodecConfig{SampleRate: 24000})
	in := []float32{0.1, -0.1}
	p, err := c.Decode(context.Background(), audio.Float32ToBytes(in), "PCM")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.SampleRate != 24000 || len(p.Samples) != 2 {
		t.Errorf("got %+v", p)
	}
}

func TestCodec_DecodeWAVSameRate(t *testing.T) {
	c := audio.NewCodec(audio.CodecConfig{SampleRate: 16000})
	data, _ := audio.EncodeWAV(audio.PCM{Samples: []float32{0.5, 0.5, 0.5}, SampleRate: 16000})
	p, err := c.Decode(context.Background(), data, "wav")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.SampleRate != 16000 || len(p.Samples) != 3 {
		t.Errorf("got rate %d len %d", p.SampleRate, len(p.Samples))
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := audio.NewCodec(audio.CodecConfig{FFmpegPath: "/nonexistent/voxgate-ffmpeg"})

	if _, err := c.Decode(context.Background(), nil, "webm"); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("empty input: err = %v, want ErrDecode", err)
	}
	if _, err := c.Decode(context.Background(), []byte{1}, "aiff"); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("unknown format: err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := c.Decode(context.Background(), []byte{1, 2, 3, 4}, "webm"); err == nil {
		t.Error("missing ffmpeg binary should fail")
	}
}

func TestCodec_Defaults(t *testing.T) {
	c := audio.NewCodec(audio.CodecConfig{})
	if c.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", c.SampleRate())
	}
}
