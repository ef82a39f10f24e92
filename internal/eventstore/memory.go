package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and SnapshotStore.
type MemoryStore struct {
	mu        sync.RWMutex
	log       []Record
	streams   map[string][]int // aggregate id -> indexes into log
	snapshots map[string]Snapshot
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:   make(map[string][]int),
		snapshots: make(map[string]Snapshot),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID string, expectedLastSeq int64, records []Record) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateAppend(aggregateID, expectedLastSeq, records); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	last := int64(len(stream)) - 1
	if expectedLastSeq == NoStream && last >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, aggregateID)
	}
	if last != expectedLastSeq {
		return nil, fmt.Errorf("%w: stream %s expected seq %d, found %d", ErrConcurrencyConflict, aggregateID, expectedLastSeq, last)
	}

	recordedAt := s.now()
	out := make([]Record, len(records))
	for i, r := range records {
		r.AggregateID = aggregateID
		r.Seq = expectedLastSeq + 1 + int64(i)
		r.GlobalPosition = int64(len(s.log)) + 1
		r.RecordedAt = recordedAt
		r.Metadata = cloneMetadata(r.Metadata)
		s.log = append(s.log, r)
		stream = append(stream, len(s.log)-1)
		out[i] = r
	}
	s.streams[aggregateID] = stream
	return out, nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID string, afterSeq int64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	start := afterSeq + 1
	if start < 0 {
		start = 0
	}
	if start >= int64(len(stream)) {
		return nil, nil
	}
	out := make([]Record, 0, int64(len(stream))-start)
	for _, idx := range stream[start:] {
		out = append(out, s.log[idx])
	}
	return out, CheckSequence(afterSeq, out)
}

func (s *MemoryStore) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// positions are 1-based indexes into log
	start := afterPosition
	if start < 0 {
		start = 0
	}
	if start >= int64(len(s.log)) {
		return nil, nil
	}
	end := int64(len(s.log))
	if limit > 0 && start+int64(limit) < end {
		end = start + int64(limit)
	}
	out := make([]Record, end-start)
	copy(out, s.log[start:end])
	return out, nil
}

func (s *MemoryStore) LastPosition(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.log)), nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot keeps the snapshot with the highest Seq.
func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.AggregateID == "" {
		return fmt.Errorf("snapshot requires aggregate id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.snapshots[snap.AggregateID]; ok && existing.Seq > snap.Seq {
		return nil
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	s.snapshots[snap.AggregateID] = snap
	return nil
}
