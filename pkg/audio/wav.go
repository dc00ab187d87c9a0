package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
	wavHeaderSize  = 44
)

// EncodeWAV frames p as a mono 16-bit PCM RIFF/WAVE file. Samples outside
// [-1, 1] are clipped.
func EncodeWAV(p PCM) ([]byte, error) {
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid sample rate %d", p.SampleRate)
	}
	dataLen := len(p.Samples) * 2

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataLen))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint32(p.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(p.SampleRate*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(Int16ToBytes(ToInt16(p.Samples)))

	return buf.Bytes(), nil
}

// DecodeWAV parses a RIFF/WAVE file holding 16-bit PCM or 32-bit float
// samples. Multi-channel audio is downmixed to mono by averaging.
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}

	var (
		format, channels, bits uint16
		rate                   uint32
		haveFmt                bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Streaming writers leave the data size unset; take what is there.
			if id == "data" {
				size = len(data) - body
			} else {
				return PCM{}, fmt.Errorf("%w: chunk %q overruns file", ErrDecode, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			samples, err := decodeWAVSamples(data[body:body+size], format, channels, bits)
			if err != nil {
				return PCM{}, err
			}
			return PCM{Samples: samples, SampleRate: int(rate)}, nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}
	return PCM{}, fmt.Errorf("%w: no data chunk", ErrDecode)
}

func decodeWAVSamples(raw []byte, format, channels, bits uint16) ([]float32, error) {
	if channels == 0 {
		return nil, fmt.Errorf("%w: zero channels", ErrDecode)
	}

	var mono []float32
	switch {
	case format == wavFormatPCM && bits == 16:
		mono = FromInt16(BytesToInt16(raw))
	case format == wavFormatFloat && bits == 32:
		n := len(raw) / 4
		mono = make([]float32, n)
		for i := range n {
			mono[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	default:
		return nil, fmt.Errorf("%w: wav format %d with %d bits", ErrUnsupportedFormat, format, bits)
	}

	if channels == 1 {
		return mono, nil
	}
	ch := int(channels)
	frames := len(mono) / ch
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range ch {
			sum += mono[i*ch+c]
		}
		out[i] = sum / float32(ch)
	}
	return out, nil
}
