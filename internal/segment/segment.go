package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/lockmap"
	"hearing-transcripts-go/internal/store"
	"hearing-transcripts-go/internal/storage"
	"hearing-transcripts-go/internal/types"
)

const DefaultWindow = 120 * time.Second

// ErrInput marks audio that could not be segmented. The recording is failed
// and no chunks exist.
var ErrInput = errors.New("unreadable recording audio")

type Media interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	Cut(ctx context.Context, src, dst string, start, length time.Duration) error
}

type Blobs interface {
	Path(name string) string
	Remove(name string) error
}

type Store interface {
	GetRecording(ctx context.Context, id string) (*types.Recording, error)
	CreateChunks(ctx context.Context, recordingID string, chunks []types.Chunk) error
	MarkRecordingFailed(ctx context.Context, id, reason string) error
}

// Span is one window of the source timeline.
type Span struct {
	Index  int
	Start  time.Duration
	Length time.Duration
}

// Plan splits total into ceil(total/window) contiguous spans. The last
// span is shorter when total is not a multiple of window.
func Plan(total, window time.Duration) []Span {
	if total <= 0 || window <= 0 {
		return nil
	}
	n := int((total + window - 1) / window)
	spans := make([]Span, n)
	for i := range spans {
		start := time.Duration(i) * window
		length := window
		if rest := total - start; rest < window {
			length = rest
		}
		spans[i] = Span{Index: i, Start: start, Length: length}
	}
	return spans
}

type Segmenter struct {
	store  Store
	blobs  Blobs
	media  Media
	window time.Duration
	locks  *lockmap.Map
	log    *logrus.Entry
}

func New(st Store, blobs Blobs, media Media, window time.Duration, log *logrus.Entry) *Segmenter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Segmenter{
		store:  st,
		blobs:  blobs,
		media:  media,
		window: window,
		locks:  lockmap.New(),
		log:    log.WithField("component", "segmenter"),
	}
}

// Segment cuts the recording into chunks once. Calling it again on a
// segmented recording returns (nil, nil).
func (s *Segmenter) Segment(ctx context.Context, recordingID string) ([]types.Chunk, error) {
	unlock := s.locks.Lock(recordingID)
	defer unlock()

	log := s.log.WithField("recording_id", recordingID)

	rec, err := s.store.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.Segmented {
		log.Debug("recording already segmented")
		return nil, nil
	}

	total, err := s.media.Duration(ctx, rec.AudioRef)
	if err != nil {
		return nil, s.fail(ctx, log, recordingID, nil, fmt.Errorf("probe audio: %w", err))
	}
	spans := Plan(total, s.window)
	if len(spans) == 0 {
		return nil, s.fail(ctx, log, recordingID, nil, fmt.Errorf("audio has no duration"))
	}

	chunks := make([]types.Chunk, 0, len(spans))
	written := make([]string, 0, len(spans))
	for _, sp := range spans {
		name := storage.ChunkName(recordingID, sp.Index, "wav")
		path := s.blobs.Path(name)
		if err := s.media.Cut(ctx, rec.AudioRef, path, sp.Start, sp.Length); err != nil {
			// ffmpeg may leave a partial file behind
			written = append(written, name)
			return nil, s.fail(ctx, log, recordingID, written, fmt.Errorf("cut chunk %d: %w", sp.Index, err))
		}
		written = append(written, name)
		chunks = append(chunks, types.Chunk{
			ChunkIndex: sp.Index,
			AudioRef:   path,
			Start:      sp.Start,
			Length:     sp.Length,
		})
	}

	if err := s.store.CreateChunks(ctx, recordingID, chunks); err != nil {
		if errors.Is(err, store.ErrAlreadySegmented) {
			log.Warn("recording segmented concurrently")
			return nil, nil
		}
		s.cleanup(log, written)
		return nil, fmt.Errorf("create chunks: %w", err)
	}

	log.WithFields(logrus.Fields{
		"chunks":   len(chunks),
		"duration": total.String(),
	}).Info("recording segmented")
	return chunks, nil
}

func (s *Segmenter) fail(ctx context.Context, log *logrus.Entry, recordingID string, written []string, cause error) error {
	s.cleanup(log, written)
	if err := s.store.MarkRecordingFailed(ctx, recordingID, cause.Error()); err != nil {
		log.WithError(err).Error("failed to mark recording failed")
	}
	log.WithError(cause).Error("segmentation failed")
	return fmt.Errorf("%w: %v", ErrInput, cause)
}

func (s *Segmenter) cleanup(log *logrus.Entry, names []string) {
	for _, name := range names {
		if err := s.blobs.Remove(name); err != nil {
			log.WithError(err).WithField("blob", name).Warn("failed to remove segment")
		}
	}
}
