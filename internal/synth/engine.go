// Package synth implements the third pipeline stage: turning each text
// segment into a raw-audio WAV artifact through a pluggable TTS engine.
package synth

import (
	"context"
	"fmt"

	"github.com/opusbook/opusbook/internal/config"
)

// Engine converts one segment of text into WAV audio. The markup is a
// best-effort hint; engines without SSML support use the plain text.
// Engines are not safe for concurrent calls on the same book.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, text, ssml string) ([]byte, error)
}

// NewEngine builds the configured engine.
func NewEngine(cfg config.SynthesisConfig) (Engine, error) {
	switch cfg.Engine {
	case "openai", "":
		key := config.ResolveEnvVars(cfg.APIKey)
		if key == "" {
			return nil, fmt.Errorf("openai engine requires an api key")
		}
		return NewOpenAIEngine(key, cfg.Model, cfg.Voice), nil
	case "http":
		if cfg.EngineURL == "" {
			return nil, fmt.Errorf("http engine requires engine_url")
		}
		return NewHTTPEngine(cfg.EngineURL), nil
	case "sine":
		return NewSineEngine(), nil
	default:
		return nil, fmt.Errorf("unknown synthesis engine %q", cfg.Engine)
	}
}
