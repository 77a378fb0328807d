package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/retry"
)

// ErrEmptyTranscript is returned when the engine answers with no words.
var ErrEmptyTranscript = errors.New("empty transcript")

// Engine is a speech-to-text backend. Implementations mark errors that are
// not worth retrying with retry.Permanent.
type Engine interface {
	Transcribe(ctx context.Context, path, language string) (string, error)
}

type Result struct {
	Text     string
	Attempts int
}

// Client transcribes audio segments with bounded retries.
type Client struct {
	engine Engine
	policy retry.Policy
	log    *logrus.Entry
}

func NewClient(engine Engine, policy retry.Policy, log *logrus.Entry) *Client {
	return &Client{
		engine: engine,
		policy: policy,
		log:    log.WithField("component", "transcription"),
	}
}

// Transcribe returns non-empty text for the segment at path. Failures are
// *retry.Error values.
func (c *Client) Transcribe(ctx context.Context, path, language string) (Result, error) {
	log := c.log.WithField("audio", path)

	var text string
	attempts, err := retry.Do(ctx, c.policy, log, func(ctx context.Context) error {
		out, err := c.engine.Transcribe(ctx, path, language)
		if err != nil {
			return err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return retry.Permanent(ErrEmptyTranscript)
		}
		text = out
		return nil
	})
	if err != nil {
		log.WithField("attempts", attempts).WithError(err).Error("transcription failed")
		return Result{Attempts: attempts}, fmt.Errorf("transcribe %s: %w", path, err)
	}

	log.WithFields(logrus.Fields{
		"attempts": attempts,
		"words":    len(strings.Fields(text)),
	}).Info("segment transcribed")
	return Result{Text: text, Attempts: attempts}, nil
}
