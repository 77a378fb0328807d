package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/lockmap"
	"hearing-transcripts-go/internal/types"
)

// Summary is the recording state derived from its chunk set.
type Summary struct {
	Status          types.RecordingStatus     `json:"status"`
	StatusCounts    map[types.ChunkStatus]int `json:"status_counts"`
	Total           int                       `json:"total_chunks"`
	Failed          int                       `json:"failed_chunks"`
	TranscriptText  string                    `json:"transcription_text"`
	DiarizationText string                    `json:"diarization_text"`
}

// Summarize is a pure function of the chunk set. Texts are joined in chunk
// index order regardless of the order chunks finished in.
func Summarize(chunks []types.Chunk) Summary {
	ordered := make([]types.Chunk, len(chunks))
	copy(ordered, chunks)
	sortByIndex(ordered)

	counts := map[types.ChunkStatus]int{}
	var transcript, diarization []string
	busy := false
	// failed chunks with no transcript; a diarization failure keeps its text
	lost := 0
	for _, c := range ordered {
		counts[c.Status]++
		if c.Status.Busy() {
			busy = true
		}
		if c.Status == types.ChunkFailed && c.Transcript() == "" {
			lost++
		}
		if t := c.Transcript(); t != "" {
			transcript = append(transcript, t)
		}
		if d := c.Diarization(); d != "" {
			diarization = append(diarization, d)
		}
	}

	s := Summary{
		StatusCounts:    counts,
		Total:           len(ordered),
		Failed:          counts[types.ChunkFailed],
		TranscriptText:  strings.Join(transcript, "\n"),
		DiarizationText: strings.Join(diarization, "\n"),
	}
	switch {
	case len(ordered) == 0:
		s.Status = types.RecordingPending
	case busy:
		s.Status = types.RecordingInProgress
	case lost == s.Total:
		s.Status = types.RecordingFailed
	default:
		s.Status = types.RecordingCompleted
	}
	return s
}

func sortByIndex(chunks []types.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
}

type Store interface {
	MutateRecording(ctx context.Context, id string, fn func(rec *types.Recording, chunks []types.Chunk) error) error
}

// Aggregator folds chunk results into their recording. Writes for one
// recording are serialized in-process and each is a single transaction.
type Aggregator struct {
	store Store
	locks *lockmap.Map
	log   *logrus.Entry
}

func New(st Store, log *logrus.Entry) *Aggregator {
	return &Aggregator{
		store: st,
		locks: lockmap.New(),
		log:   log.WithField("component", "aggregator"),
	}
}

// Recompute derives the recording's status and texts from its chunks and
// stores them. Repeated calls on an unchanged chunk set are no-ops.
func (a *Aggregator) Recompute(ctx context.Context, recordingID string) (Summary, error) {
	unlock := a.locks.Lock(recordingID)
	defer unlock()

	var (
		sum     Summary
		changed bool
		before  types.RecordingStatus
	)
	err := a.store.MutateRecording(ctx, recordingID, func(rec *types.Recording, chunks []types.Chunk) error {
		if !rec.Segmented {
			// nothing to derive; segmentation owns the recording until then
			sum = Summary{Status: rec.Status, StatusCounts: map[types.ChunkStatus]int{}}
			return nil
		}
		sum = Summarize(chunks)
		before = rec.Status
		changed = rec.Status != sum.Status ||
			rec.TranscriptText != sum.TranscriptText ||
			rec.DiarizationText != sum.DiarizationText ||
			rec.TotalChunks != sum.Total ||
			rec.FailedChunks != sum.Failed

		rec.Status = sum.Status
		rec.TranscriptText = sum.TranscriptText
		rec.DiarizationText = sum.DiarizationText
		rec.TotalChunks = sum.Total
		rec.FailedChunks = sum.Failed
		if sum.Status == types.RecordingFailed {
			rec.FailureReason = fmt.Sprintf("all %d chunks failed", sum.Total)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("recompute recording %s: %w", recordingID, err)
	}

	if changed {
		a.log.WithFields(logrus.Fields{
			"recording_id": recordingID,
			"from":         before,
			"status":       sum.Status,
			"chunks":       sum.Total,
			"failed":       sum.Failed,
		}).Info("recording recomputed")
	}
	return sum, nil
}
