// Package vad defines the Classifier interface for Voice Activity Detection
// backends.
//
// A classifier judges one short window of 16-bit mono PCM as speech or
// non-speech. It keeps no state between calls; smoothing across windows is
// the caller's job (see the segmenter's speech-ratio rule). Windows are
// expected to be 10, 20 or 30 ms long at one of the supported sample rates.
//
// Implementations must be safe for concurrent use: a single classifier is
// shared by every connection.
package vad

// Classifier decides whether a single PCM window contains speech.
type Classifier interface {
	// IsSpeech reports whether window (little-endian PCM16 already decoded to
	// int16) at sampleRate contains speech. It returns an error for an
	// unsupported sample rate or a window of the wrong length; callers treat
	// such a window as non-speech.
	IsSpeech(window []int16, sampleRate int) (bool, error)
}
