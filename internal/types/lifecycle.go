package types

import (
	"errors"
	"fmt"
)

type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkDiarized   ChunkStatus = "diarized"
	ChunkFailed     ChunkStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid chunk transition")

// forward-only lifecycle; failed is reachable from every non-terminal state
var transitions = map[ChunkStatus][]ChunkStatus{
	ChunkPending:    {ChunkProcessing, ChunkFailed},
	ChunkProcessing: {ChunkCompleted, ChunkFailed},
	ChunkCompleted:  {ChunkDiarized, ChunkFailed},
}

// CanTransition reports whether a chunk may move from one status to another.
func CanTransition(from, to ChunkStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition as an error.
func CheckTransition(from, to ChunkStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Busy reports whether the chunk still has pipeline work in flight.
func (s ChunkStatus) Busy() bool {
	return s == ChunkPending || s == ChunkProcessing
}

// Terminal reports whether the status counts as finished for aggregation.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkCompleted || s == ChunkDiarized || s == ChunkFailed
}
