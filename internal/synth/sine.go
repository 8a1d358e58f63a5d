package synth

import (
	"context"
	"math"
	"strings"
)

const (
	sineSampleRate = 22050
	sineFrequency  = 440.0
	// sineCharsPerSecond approximates a reading pace so the produced
	// duration scales with the segment length.
	sineCharsPerSecond = 15.0
)

// SineEngine is a deterministic offline engine for development and tests:
// a 440 Hz tone whose length tracks the text length.
type SineEngine struct{}

// NewSineEngine creates the engine.
func NewSineEngine() *SineEngine { return &SineEngine{} }

func (e *SineEngine) Name() string { return "sine" }

func (e *SineEngine) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	chars := len(strings.TrimSpace(text))
	seconds := float64(chars) / sineCharsPerSecond
	if seconds < 0.5 {
		seconds = 0.5
	}

	n := int(seconds * sineSampleRate)
	samples := make([]int16, n)
	for i := range samples {
		v := math.Sin(2 * math.Pi * sineFrequency * float64(i) / sineSampleRate)
		samples[i] = int16(v * 0.3 * math.MaxInt16)
	}
	return EncodePCM16(samples, sineSampleRate), nil
}
