package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resamplePadding is the trailing silence fed through the filter so that its
// internal delay line is drained before the output is trimmed.
const resamplePadding = 0.25 // seconds

// Resample converts a whole buffer to dstRate with a high-quality polyphase
// filter. Use it for complete utterances; per-frame classification uses the
// stateless [ResampleLinear] instead.
func Resample(p PCM, dstRate int) (PCM, error) {
	if dstRate <= 0 {
		return PCM{}, fmt.Errorf("audio: resample: invalid target rate %d", dstRate)
	}
	if p.SampleRate == dstRate || len(p.Samples) == 0 {
		return PCM{Samples: p.Samples, SampleRate: dstRate}, nil
	}
	if p.SampleRate <= 0 {
		return PCM{}, fmt.Errorf("audio: resample: invalid source rate %d", p.SampleRate)
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(p.SampleRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return PCM{}, fmt.Errorf("audio: resample: create resampler: %w", err)
	}

	pad := int(float64(p.SampleRate) * resamplePadding)
	input := make([]float64, len(p.Samples)+pad)
	for i, s := range p.Samples {
		input[i] = float64(s)
	}

	output, err := r.Process(input)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: resample: %w", err)
	}

	want := int(int64(len(p.Samples)) * int64(dstRate) / int64(p.SampleRate))
	if len(output) > want {
		output = output[:want]
	}

	out := make([]float32, len(output))
	for i, s := range output {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		out[i] = float32(s)
	}
	return PCM{Samples: out, SampleRate: dstRate}, nil
}
