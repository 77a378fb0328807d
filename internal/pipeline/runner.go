package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"hearing-transcripts-go/internal/store"
	"hearing-transcripts-go/internal/types"
)

var ErrStopped = errors.New("pipeline stopped")

type EventKind string

const (
	RecordingCreated EventKind = "recording_created"
	ChunkCreated     EventKind = "chunk_created"
	ChunkTranscribed EventKind = "chunk_transcribed"
)

type Event struct {
	Kind        EventKind
	RecordingID string
	ChunkID     string
}

func (e Event) key() string {
	if e.ChunkID != "" {
		return e.ChunkID
	}
	return e.RecordingID
}

type Segmenter interface {
	Segment(ctx context.Context, recordingID string) ([]types.Chunk, error)
}

type ResumeStore interface {
	ListRecordings(ctx context.Context, f store.RecordingFilter) ([]types.Recording, error)
	ListChunks(ctx context.Context, f store.ChunkFilter) ([]types.Chunk, error)
}

// Runner consumes lifecycle events with a fixed set of workers. Each
// handled event may post the next one for the same chunk.
type Runner struct {
	queue   *Queue[Event]
	seg     Segmenter
	machine *Machine
	store   ResumeStore
	workers int
	wg      sync.WaitGroup
	started atomic.Bool
	once    sync.Once
	log     *logrus.Entry
}

func NewRunner(seg Segmenter, machine *Machine, st ResumeStore, workers int, log *logrus.Entry) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		queue:   NewQueue[Event](),
		seg:     seg,
		machine: machine,
		store:   st,
		workers: workers,
		log:     log.WithField("component", "runner"),
	}
}

// Post enqueues an event. It never blocks.
func (r *Runner) Post(ev Event) error {
	if !r.queue.Push(ev) {
		return ErrStopped
	}
	r.log.WithFields(logrus.Fields{"event": ev.Kind, "id": ev.key()}).Debug("event posted")
	return nil
}

// Start launches the workers. Events posted before Start are kept.
func (r *Runner) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.log.WithField("workers", r.workers).Info("pipeline starting")
	for i := 1; i <= r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
}

func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	log := r.log.WithField("worker", id)
	for {
		ev, ok := r.queue.Pop()
		if !ok {
			log.Debug("worker stopping")
			return
		}
		r.dispatch(ctx, log, ev)
	}
}

func (r *Runner) dispatch(ctx context.Context, log *logrus.Entry, ev Event) {
	defer r.queue.Done()
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(logrus.Fields{"event": ev.Kind, "id": ev.key(), "panic": p}).Error("event handler panicked")
		}
	}()
	if err := r.handle(ctx, ev); err != nil {
		log.WithFields(logrus.Fields{"event": ev.Kind, "id": ev.key()}).WithError(err).Error("event failed")
	}
}

func (r *Runner) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case RecordingCreated:
		chunks, err := r.seg.Segment(ctx, ev.RecordingID)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			if err := r.Post(Event{Kind: ChunkCreated, RecordingID: ev.RecordingID, ChunkID: c.ID}); err != nil {
				return err
			}
		}
		return nil

	case ChunkCreated:
		completed, err := r.machine.Transcribe(ctx, ev.ChunkID)
		if err != nil {
			return err
		}
		if completed {
			return r.Post(Event{Kind: ChunkTranscribed, RecordingID: ev.RecordingID, ChunkID: ev.ChunkID})
		}
		return nil

	case ChunkTranscribed:
		return r.machine.Diarize(ctx, ev.ChunkID)

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// Wait blocks until every posted event and its follow-ups are handled.
func (r *Runner) Wait() {
	r.queue.Wait()
}

// Stop waits for queued work and its follow-ups, then stops the workers.
// Events posted afterwards are rejected with ErrStopped.
func (r *Runner) Stop() {
	r.once.Do(func() {
		if r.started.Load() {
			r.queue.Wait()
		}
		r.queue.Close()
		r.wg.Wait()
		r.log.Info("pipeline stopped")
	})
}

// Resume re-posts work found in the store: unsegmented pending recordings,
// pending chunks and completed chunks. Chunks caught in processing by a
// previous run are failed rather than redone.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	stuck, err := r.store.ListChunks(ctx, store.ChunkFilter{Statuses: []types.ChunkStatus{types.ChunkProcessing}})
	if err != nil {
		return 0, err
	}
	for _, c := range stuck {
		if err := r.machine.Interrupt(ctx, c); err != nil {
			return 0, fmt.Errorf("interrupt chunk %s: %w", c.ID, err)
		}
	}

	unsegmented := false
	recs, err := r.store.ListRecordings(ctx, store.RecordingFilter{Status: types.RecordingPending, Segmented: &unsegmented})
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, rec := range recs {
		if err := r.Post(Event{Kind: RecordingCreated, RecordingID: rec.ID}); err != nil {
			return posted, err
		}
		posted++
	}

	chunks, err := r.store.ListChunks(ctx, store.ChunkFilter{Statuses: []types.ChunkStatus{types.ChunkPending, types.ChunkCompleted}})
	if err != nil {
		return posted, err
	}
	for _, c := range chunks {
		kind := ChunkCreated
		if c.Status == types.ChunkCompleted {
			kind = ChunkTranscribed
		}
		if err := r.Post(Event{Kind: kind, RecordingID: c.RecordingID, ChunkID: c.ID}); err != nil {
			return posted, err
		}
		posted++
	}

	r.log.WithFields(logrus.Fields{
		"interrupted": len(stuck),
		"posted":      posted,
	}).Info("pipeline resumed")
	return posted, nil
}
