package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Default codec settings.
const (
	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFmpegTimeout = 30 * time.Second
)

// CodecConfig configures a [Codec].
type CodecConfig struct {
	// SampleRate is the rate every decoded buffer is normalised to.
	SampleRate int

	// FFmpegPath is the ffmpeg binary used for compressed containers.
	// Default: "ffmpeg" (resolved through PATH).
	FFmpegPath string

	// FFmpegTimeout bounds a single ffmpeg run. Default: 30s.
	FFmpegTimeout time.Duration
}

// Codec decodes client audio containers to PCM and encodes PCM replies as
// WAV. It is stateless and safe for concurrent use.
type Codec struct {
	sampleRate    int
	ffmpegPath    string
	ffmpegTimeout time.Duration
}

// NewCodec creates a Codec. Zero-value fields in cfg are replaced with
// defaults.
func NewCodec(cfg CodecConfig) *Codec {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.FFmpegTimeout <= 0 {
		cfg.FFmpegTimeout = DefaultFFmpegTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &Codec{
		sampleRate:    cfg.SampleRate,
		ffmpegPath:    cfg.FFmpegPath,
		ffmpegTimeout: cfg.FFmpegTimeout,
	}
}

// SampleRate returns the rate decoded buffers are normalised to.
func (c *Codec) SampleRate() int { return c.sampleRate }

// Decode converts data in the given container format to mono PCM at the
// codec's sample rate. "pcm" means raw little-endian float32 already at that
// rate. Compressed containers are handed to ffmpeg over pipes.
func (c *Codec) Decode(ctx context.Context, data []byte, format string) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, fmt.Errorf("%w: empty audio", ErrDecode)
	}

	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case FormatPCM:
		samples, err := BytesToFloat32(data)
		if err != nil {
			return PCM{}, err
		}
		return PCM{Samples: samples, SampleRate: c.sampleRate}, nil

	case FormatWAV:
		p, err := DecodeWAV(data)
		if err != nil {
			return PCM{}, err
		}
		return Resample(p, c.sampleRate)

	case FormatWebM, FormatOgg, FormatMP3, FormatM4A, FormatFLAC:
		return c.decodeFFmpeg(ctx, data, f)

	default:
		return PCM{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// EncodeWAV frames p as a 16-bit WAV file.
func (c *Codec) EncodeWAV(p PCM) ([]byte, error) {
	return EncodeWAV(p)
}

// decodeFFmpeg runs ffmpeg with data on stdin and reads mono float32 PCM at
// the codec rate from stdout.
func (c *Codec) decodeFFmpeg(ctx context.Context, data []byte, format string) (PCM, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ffmpegTimeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", demuxerName(format),
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(c.sampleRate),
		"-f", "f32le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running ffmpeg", "format", format, "bytes", len(data))

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return PCM{}, fmt.Errorf("audio: ffmpeg not found at %q: %w", c.ffmpegPath, err)
		}
		if ctx.Err() != nil {
			return PCM{}, fmt.Errorf("audio: ffmpeg timed out after %s: %w", c.ffmpegTimeout, ctx.Err())
		}
		return PCM{}, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	samples, err := BytesToFloat32(stdout.Bytes())
	if err != nil {
		return PCM{}, err
	}
	if len(samples) == 0 {
		return PCM{}, fmt.Errorf("%w: ffmpeg produced no samples", ErrDecode)
	}
	return PCM{Samples: samples, SampleRate: c.sampleRate}, nil
}

// demuxerName maps a container name to the ffmpeg demuxer that reads it.
func demuxerName(format string) string {
	switch format {
	case FormatWebM:
		return "matroska"
	case FormatM4A:
		return "mov"
	default:
		return format
	}
}
