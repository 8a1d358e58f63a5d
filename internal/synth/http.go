package synth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPEngine talks to a local Coqui-style TTS server over its
// GET /api/tts?text=... interface and expects WAV back.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates the engine for the given server base URL.
func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (e *HTTPEngine) Name() string { return "http" }

// Synthesize requests one segment. SSML is passed through when the server
// advertises support; these servers accept it inline in the text field.
func (e *HTTPEngine) Synthesize(ctx context.Context, text, ssml string) ([]byte, error) {
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, fmt.Errorf("text is empty")
	}

	q := url.Values{}
	q.Set("text", input)
	reqURL := e.baseURL + "/api/tts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts engine returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts engine response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts engine returned empty audio")
	}
	return audio, nil
}
