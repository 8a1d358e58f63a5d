package synth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIDefaultModel = "gpt-4o-mini-tts"
	openAIDefaultVoice = "alloy"
)

// OpenAIEngine synthesizes through the OpenAI speech API, requesting WAV
// output so the transcoder can slice it without an intermediate decode.
type OpenAIEngine struct {
	model  string
	voice  string
	client openai.Client
}

// NewOpenAIEngine creates the engine. Model and voice fall back to
// defaults when empty.
func NewOpenAIEngine(apiKey, model, voice string, opts ...option.RequestOption) *OpenAIEngine {
	if model == "" {
		model = openAIDefaultModel
	}
	if voice == "" {
		voice = openAIDefaultVoice
	}
	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 300 * time.Second}),
		option.WithMaxRetries(3),
	}, opts...)
	return &OpenAIEngine{
		model:  model,
		voice:  voice,
		client: openai.NewClient(clientOpts...),
	}
}

func (e *OpenAIEngine) Name() string { return "openai" }

// Synthesize sends the plain text; the speech API does not accept SSML.
func (e *OpenAIEngine) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is empty")
	}

	resp, err := e.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(e.model),
		Voice:          openai.AudioSpeechNewParamsVoice(e.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai returned empty audio")
	}
	return audio, nil
}
