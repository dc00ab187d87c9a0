package vad

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors returned by classifiers.
var (
	// ErrSampleRate is returned for a sample rate the classifier does not
	// support.
	ErrSampleRate = errors.New("vad: unsupported sample rate")

	// ErrWindowSize is returned when a window is not 10, 20 or 30 ms long.
	ErrWindowSize = errors.New("vad: unsupported window size")
)

// SupportedRates lists the sample rates classifiers accept.
var SupportedRates = []int{8000, 16000, 32000, 48000}

// supportedWindowsMs lists the accepted window durations.
var supportedWindowsMs = []int{10, 20, 30}

// ValidateWindow checks that a window of n samples at sampleRate has a
// supported rate and duration.
func ValidateWindow(n, sampleRate int) error {
	if !slices.Contains(SupportedRates, sampleRate) {
		return fmt.Errorf("%w: %d Hz", ErrSampleRate, sampleRate)
	}
	for _, ms := range supportedWindowsMs {
		if n == sampleRate*ms/1000 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d samples at %d Hz", ErrWindowSize, n, sampleRate)
}

// WindowSamples returns the number of samples in a window of ms milliseconds
// at sampleRate.
func WindowSamples(sampleRate, ms int) int {
	return sampleRate * ms / 1000
}
