package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/aggregator"
	"hearing-transcripts-go/internal/diarization"
	"hearing-transcripts-go/internal/retry"
	"hearing-transcripts-go/internal/store"
	"hearing-transcripts-go/internal/transcription"
	"hearing-transcripts-go/internal/types"
)

type Store interface {
	GetRecording(ctx context.Context, id string) (*types.Recording, error)
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)
	TransitionChunk(ctx context.Context, id string, from types.ChunkStatus, u store.ChunkUpdate) (bool, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (transcription.Result, error)
}

type Diarizer interface {
	Diarize(ctx context.Context, path, language string) (diarization.Result, error)
}

type Recomputer interface {
	Recompute(ctx context.Context, recordingID string) (aggregator.Summary, error)
}

// Machine drives single chunks through their lifecycle. Every status write
// is a compare-and-set, so concurrent deliveries of the same event do the
// work once.
type Machine struct {
	store       Store
	transcriber Transcriber
	diarizer    Diarizer
	agg         Recomputer
	language    string
	log         *logrus.Entry
}

func NewMachine(st Store, tr Transcriber, di Diarizer, agg Recomputer, language string, log *logrus.Entry) *Machine {
	return &Machine{
		store:       st,
		transcriber: tr,
		diarizer:    di,
		agg:         agg,
		language:    language,
		log:         log.WithField("component", "chunk_machine"),
	}
}

func (m *Machine) chunkLog(c *types.Chunk) *logrus.Entry {
	return m.log.WithFields(logrus.Fields{
		"chunk_id":     c.ID,
		"recording_id": c.RecordingID,
		"chunk_index":  c.ChunkIndex,
	})
}

func (m *Machine) languageFor(ctx context.Context, recordingID string) string {
	rec, err := m.store.GetRecording(ctx, recordingID)
	if err != nil || rec.Language == "" {
		return m.language
	}
	return rec.Language
}

// Transcribe runs pending -> processing -> completed|failed for one chunk.
// It reports true when the chunk reached completed and is ready for
// diarization.
func (m *Machine) Transcribe(ctx context.Context, chunkID string) (completed bool, err error) {
	c, err := m.store.GetChunk(ctx, chunkID)
	if err != nil {
		return false, err
	}
	log := m.chunkLog(c)
	if c.Status != types.ChunkPending {
		log.WithField("status", c.Status).Debug("chunk not pending, skipping transcription")
		return false, nil
	}

	language := m.languageFor(ctx, c.RecordingID)
	claimed, err := m.store.TransitionChunk(ctx, c.ID, types.ChunkPending, store.ChunkUpdate{To: types.ChunkProcessing})
	if err != nil {
		return false, fmt.Errorf("claim chunk %s: %w", c.ID, err)
	}
	if !claimed {
		log.Debug("chunk claimed by another worker")
		return false, nil
	}

	defer m.settle(ctx, log, c, &completed, &err)

	res, terr := m.transcriber.Transcribe(ctx, c.AudioRef, language)
	if terr != nil {
		_, err = m.store.TransitionChunk(ctx, c.ID, types.ChunkProcessing, store.ChunkUpdate{
			To:            types.ChunkFailed,
			FailureStage:  types.StageTranscription,
			FailureReason: terr.Error(),
			Attempts:      retry.Attempts(terr),
		})
		log.WithError(terr).Warn("chunk failed transcription")
		return false, err
	}

	ok, err := m.store.TransitionChunk(ctx, c.ID, types.ChunkProcessing, store.ChunkUpdate{
		To:             types.ChunkCompleted,
		TranscriptText: &res.Text,
		Attempts:       res.Attempts,
	})
	if err != nil {
		return false, err
	}
	if ok {
		log.Info("chunk transcribed")
	}
	return ok, nil
}

// Diarize runs completed -> diarized|failed for one chunk.
func (m *Machine) Diarize(ctx context.Context, chunkID string) (err error) {
	c, err := m.store.GetChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	log := m.chunkLog(c)
	if c.Status != types.ChunkCompleted || c.AudioRef == "" {
		log.WithField("status", c.Status).Debug("chunk not ready for diarization, skipping")
		return nil
	}

	var done bool
	defer m.settle(ctx, log, c, &done, &err)

	language := m.languageFor(ctx, c.RecordingID)
	res, derr := m.diarizer.Diarize(ctx, c.AudioRef, language)
	if derr != nil {
		_, err = m.store.TransitionChunk(ctx, c.ID, types.ChunkCompleted, store.ChunkUpdate{
			To:            types.ChunkFailed,
			FailureStage:  types.StageDiarization,
			FailureReason: derr.Error(),
			Attempts:      retry.Attempts(derr),
		})
		log.WithError(derr).Warn("chunk failed diarization")
		return err
	}

	ok, err := m.store.TransitionChunk(ctx, c.ID, types.ChunkCompleted, store.ChunkUpdate{
		To:              types.ChunkDiarized,
		DiarizationText: &res.Text,
		Attempts:        res.Attempts,
	})
	if err != nil {
		return err
	}
	if ok {
		done = true
		log.Info("chunk diarized")
	}
	return nil
}

// settle runs after a claimed step. A panic or a failed status write turns
// the chunk into failed/internal instead of leaving it mid-flight, and the
// parent recording is recomputed either way.
func (m *Machine) settle(ctx context.Context, log *logrus.Entry, c *types.Chunk, ok *bool, err *error) {
	if r := recover(); r != nil {
		log.WithField("panic", r).Error("chunk step panicked")
		*ok = false
		*err = fmt.Errorf("chunk %s: panic: %v", c.ID, r)
	}
	if *err != nil {
		m.forceFail(ctx, log, c.ID, types.StageInternal, (*err).Error())
	}
	if _, rerr := m.agg.Recompute(ctx, c.RecordingID); rerr != nil {
		log.WithError(rerr).Error("recompute after chunk step failed")
	}
}

// forceFail moves a chunk that is not yet at rest into failed.
func (m *Machine) forceFail(ctx context.Context, log *logrus.Entry, chunkID, stage, reason string) {
	c, err := m.store.GetChunk(ctx, chunkID)
	if err != nil {
		log.WithError(err).Error("could not load chunk to fail it")
		return
	}
	if !types.CanTransition(c.Status, types.ChunkFailed) {
		return
	}
	if _, err := m.store.TransitionChunk(ctx, chunkID, c.Status, store.ChunkUpdate{
		To:            types.ChunkFailed,
		FailureStage:  stage,
		FailureReason: reason,
	}); err != nil {
		log.WithError(err).Error("could not mark chunk failed")
	}
}

// Interrupt fails a chunk left in processing by a previous run.
func (m *Machine) Interrupt(ctx context.Context, c types.Chunk) error {
	ok, err := m.store.TransitionChunk(ctx, c.ID, types.ChunkProcessing, store.ChunkUpdate{
		To:            types.ChunkFailed,
		FailureStage:  types.StageInterrupted,
		FailureReason: "processing interrupted by restart",
	})
	if err != nil {
		return err
	}
	if ok {
		m.chunkLog(&c).Warn("interrupted chunk failed")
	}
	_, err = m.agg.Recompute(ctx, c.RecordingID)
	return err
}
