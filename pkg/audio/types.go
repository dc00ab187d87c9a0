// Package audio provides the PCM plumbing used by voxgate: sample format
// conversion, resampling, WAV framing, and container decoding.
//
// All PCM handled here is mono. Samples are float32 in [-1, 1] unless a
// function name says otherwise (Int16 helpers operate on signed 16-bit PCM).
// Container formats the gateway cannot parse itself (webm, ogg, mp3, ...)
// are normalised by an ffmpeg subprocess; see [Codec].
package audio

import "errors"

// Container formats accepted by [Codec.Decode].
const (
	FormatWAV  = "wav"
	FormatPCM  = "pcm"
	FormatWebM = "webm"
	FormatOgg  = "ogg"
	FormatMP3  = "mp3"
	FormatM4A  = "m4a"
	FormatFLAC = "flac"
)

var (
	// ErrUnsupportedFormat is returned for container formats the codec does
	// not know how to decode.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")

	// ErrDecode is returned when audio bytes are corrupt or truncated.
	ErrDecode = errors.New("audio: decode failed")
)

// PCM is a buffer of mono float32 samples at a fixed sample rate.
type PCM struct {
	// Samples holds the audio in [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}
