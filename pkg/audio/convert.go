package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesToFloat32 decodes little-endian IEEE-754 float32 samples. A trailing
// partial sample is an error; the wire format never produces one.
func BytesToFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of 4", ErrDecode, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// Float32ToBytes encodes samples as little-endian IEEE-754 float32.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// ToInt16 converts float samples in [-1, 1] to int16, clamping out-of-range
// values rather than wrapping.
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// FromInt16 converts int16 samples to floats in [-1, 1).
func FromInt16(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Int16ToBytes encodes int16 samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian PCM16. An odd trailing byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// ResampleLinear resamples int16 mono PCM from srcRate to dstRate using linear
// interpolation. It keeps no state between calls, which makes it suitable for
// classifying independent frames. If the rates match the input is returned
// unchanged.
func ResampleLinear(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}
	dstSamples := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := pcm[srcIdx]
		s1 := s0
		if srcIdx+1 < len(pcm) {
			s1 = pcm[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
