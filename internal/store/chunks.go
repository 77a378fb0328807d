package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"hearing-transcripts-go/internal/types"
)

// CreateChunks claims the recording's segmented flag and inserts its chunks
// in one transaction. A second call for the same recording fails with
// ErrAlreadySegmented and inserts nothing.
func (s *Store) CreateChunks(ctx context.Context, recordingID string, chunks []types.Chunk) error {
	for i := range chunks {
		if chunks[i].ChunkIndex != i {
			return fmt.Errorf("%w: position %d has index %d", ErrNonContiguousPlan, i, chunks[i].ChunkIndex)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Recording{}).
			Where("id = ? AND segmented = ?", recordingID, false).
			Updates(map[string]any{
				"segmented":    true,
				"status":       types.RecordingInProgress,
				"total_chunks": len(chunks),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := getRecording(tx, recordingID); err != nil {
				return err
			}
			return fmt.Errorf("recording %s: %w", recordingID, ErrAlreadySegmented)
		}

		for i := range chunks {
			if chunks[i].ID == "" {
				chunks[i].ID = uuid.New().String()
			}
			chunks[i].RecordingID = recordingID
			chunks[i].Status = types.ChunkPending
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Create(&chunks).Error
	})
}

func getRecording(tx *gorm.DB, id string) (*types.Recording, error) {
	var rec types.Recording
	if err := tx.First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "recording", id)
	}
	return &rec, nil
}

func (s *Store) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	var c types.Chunk
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "chunk", id)
	}
	return &c, nil
}

type ChunkFilter struct {
	RecordingID string
	Statuses    []types.ChunkStatus
}

func (s *Store) chunkQuery(ctx context.Context, f ChunkFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&types.Chunk{})
	if f.RecordingID != "" {
		q = q.Where("recording_id = ?", f.RecordingID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	return q
}

// ListChunks returns matching chunks ordered by recording then index.
func (s *Store) ListChunks(ctx context.Context, f ChunkFilter) ([]types.Chunk, error) {
	var out []types.Chunk
	err := s.chunkQuery(ctx, f).Order("recording_id").Order("chunk_index").Find(&out).Error
	return out, err
}

func (s *Store) CountChunks(ctx context.Context, f ChunkFilter) (int64, error) {
	var n int64
	err := s.chunkQuery(ctx, f).Count(&n).Error
	return n, err
}

// ChunkUpdate describes one lifecycle step. Nil fields are left unchanged.
type ChunkUpdate struct {
	To              types.ChunkStatus
	TranscriptText  *string
	DiarizationText *string
	FailureStage    string
	FailureReason   string
	Attempts        int
}

// TransitionChunk moves a chunk from one status to another if it is still
// in the expected status. It reports false when another writer got there
// first or the chunk does not exist.
func (s *Store) TransitionChunk(ctx context.Context, id string, from types.ChunkStatus, u ChunkUpdate) (bool, error) {
	if err := types.CheckTransition(from, u.To); err != nil {
		return false, err
	}

	fields := map[string]any{"status": u.To}
	if u.TranscriptText != nil {
		fields["transcript_text"] = *u.TranscriptText
	}
	if u.DiarizationText != nil {
		fields["diarization_text"] = *u.DiarizationText
	}
	if u.FailureStage != "" {
		fields["failure_stage"] = u.FailureStage
	}
	if u.FailureReason != "" {
		fields["failure_reason"] = u.FailureReason
	}
	if u.Attempts > 0 {
		fields["attempts"] = gorm.Expr("attempts + ?", u.Attempts)
	}

	res := s.db.WithContext(ctx).Model(&types.Chunk{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
