package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	"hearing-transcripts-go/internal/retry"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIEngine transcribes through the OpenAI audio API or any server that
// speaks it.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(oc), model: model}
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, path, language string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", retry.Permanent(fmt.Errorf("audio segment: %w", err))
	}

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: path,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", Classify(err)
	}
	return resp.Text, nil
}

// Classify marks explicit client-side API rejections as permanent. Rate
// limits, server errors and transport failures stay retryable.
func Classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		return retry.Permanent(err)
	}
	return err
}
