package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"hearing-transcripts-go/internal/types"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadySegmented  = errors.New("recording already segmented")
	ErrNonContiguousPlan = errors.New("chunk indices must be contiguous from 0")
)

// Store persists recordings and chunks through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to postgres for postgres:// DSNs and to sqlite otherwise,
// then migrates the schema.
func Open(dsn string) (*Store, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	if isPostgres(dsn) {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !isPostgres(dsn) {
		// sqlite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&types.Recording{}, &types.Chunk{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

// forUpdate adds a row lock where the dialect has one.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Recordings

func (s *Store) CreateRecording(ctx context.Context, rec *types.Recording) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = types.RecordingPending
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) GetRecording(ctx context.Context, id string) (*types.Recording, error) {
	var rec types.Recording
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "recording", id)
	}
	return &rec, nil
}

type RecordingFilter struct {
	Status types.RecordingStatus
	// Segmented filters on the segmented flag when non-nil.
	Segmented *bool
	Limit     int
	Offset    int
}

func (s *Store) ListRecordings(ctx context.Context, f RecordingFilter) ([]types.Recording, error) {
	q := s.db.WithContext(ctx).Model(&types.Recording{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Segmented != nil {
		q = q.Where("segmented = ?", *f.Segmented)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []types.Recording
	err := q.Order("created_at DESC").Order("id").Find(&out).Error
	return out, err
}

// UpdateRecording sets the given columns on a recording.
func (s *Store) UpdateRecording(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&types.Recording{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkRecordingFailed fails a recording that has not been segmented.
func (s *Store) MarkRecordingFailed(ctx context.Context, id, reason string) error {
	return s.UpdateRecording(ctx, id, map[string]any{
		"status":         types.RecordingFailed,
		"failure_reason": reason,
	})
}

// MutateRecording loads a recording and its chunks in index order inside a
// transaction, applies fn and writes back the derived recording fields.
func (s *Store) MutateRecording(ctx context.Context, id string, fn func(rec *types.Recording, chunks []types.Chunk) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec types.Recording
		if err := forUpdate(tx).First(&rec, "id = ?", id).Error; err != nil {
			return notFound(err, "recording", id)
		}
		var chunks []types.Chunk
		if err := tx.Where("recording_id = ?", id).Order("chunk_index").Find(&chunks).Error; err != nil {
			return err
		}
		if err := fn(&rec, chunks); err != nil {
			return err
		}
		return tx.Model(&rec).
			Select("Status", "TranscriptText", "DiarizationText", "TotalChunks", "FailedChunks", "FailureReason", "UpdatedAt").
			Updates(&rec).Error
	})
}

// DeleteRecording removes a recording and all of its chunks.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("recording_id = ?", id).Delete(&types.Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&types.Recording{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("recording %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
