package diarization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/align"
	"hearing-transcripts-go/internal/retry"
	"hearing-transcripts-go/internal/transcription"
)

// ErrNoSpeech is returned when diarization and transcription together
// yield no speaker-attributed text.
var ErrNoSpeech = errors.New("no speaker-attributed text")

// Engine returns the speaker turns of an audio segment.
type Engine interface {
	Diarize(ctx context.Context, path string) ([]align.Turn, error)
}

type Result struct {
	Blocks   []align.Block
	Text     string
	Attempts int
}

// Client diarizes a segment, transcribes it again and aligns the two. All
// three steps share one retry attempt so a failure never leaves half a
// result behind.
type Client struct {
	diarizer    Engine
	transcriber transcription.Engine
	policy      retry.Policy
	log         *logrus.Entry
}

func NewClient(diarizer Engine, transcriber transcription.Engine, policy retry.Policy, log *logrus.Entry) *Client {
	return &Client{
		diarizer:    diarizer,
		transcriber: transcriber,
		policy:      policy,
		log:         log.WithField("component", "diarization"),
	}
}

func (c *Client) Diarize(ctx context.Context, path, language string) (Result, error) {
	log := c.log.WithField("audio", path)

	var res Result
	attempts, err := retry.Do(ctx, c.policy, log, func(ctx context.Context) error {
		turns, err := c.diarizer.Diarize(ctx, path)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			return retry.Permanent(ErrNoSpeech)
		}

		text, err := c.transcriber.Transcribe(ctx, path, language)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return retry.Permanent(transcription.ErrEmptyTranscript)
		}

		blocks := align.Align(turns, text)
		if !align.HasText(blocks) {
			return retry.Permanent(ErrNoSpeech)
		}
		res = Result{Blocks: blocks, Text: align.Format(blocks)}
		return nil
	})
	if err != nil {
		log.WithField("attempts", attempts).WithError(err).Error("diarization failed")
		return Result{Attempts: attempts}, fmt.Errorf("diarize %s: %w", path, err)
	}

	res.Attempts = attempts
	log.WithFields(logrus.Fields{
		"attempts": attempts,
		"blocks":   len(res.Blocks),
	}).Info("segment diarized")
	return res, nil
}
