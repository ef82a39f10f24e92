// Package idempotency keeps one processing record per (event, processing
// group) and uses it to stop a projection from applying the same event twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coffeeshop.io/coffeeshop/internal/storage"
)

// Header keys consulted for the aggregate id, in order.
const (
	HeaderEntityID        = "entityId"
	HeaderAggregateID     = "aggregateId"
	HeaderAxonAggregateID = "axonAggregateId"
)

// HeaderReplay is set to "true" on records written during a replay.
const HeaderReplay = "replay"

// ErrDuplicate is returned by Insert when the (event, group) pair exists.
var ErrDuplicate = errors.New("processing record already exists")

// Record marks that a processing group applied an event.
type Record struct {
	ID              string            `json:"id"`
	EventID         string            `json:"eventId"`
	AggregateID     string            `json:"aggregateId"`
	ProcessingGroup string            `json:"processingGroup"`
	Timestamp       time.Time         `json:"timestamp"`
	Headers         map[string]string `json:"headers,omitempty"`
	IsReplay        bool              `json:"isReplay"`
}

// RecordStore is a keyed store of processing records. Writes join the
// transaction carried in ctx.
type RecordStore interface {
	// Find returns nil without error when there is no record.
	Find(ctx context.Context, eventID, group string) (*Record, error)
	// Insert fails with ErrDuplicate if the pair already has a record.
	Insert(ctx context.Context, rec Record) error
	// UpsertReplay inserts rec, or marks the existing record as replayed
	// and merges rec.Headers into its headers.
	UpsertReplay(ctx context.Context, rec Record) error
	// Count returns how many records group has.
	Count(ctx context.Context, group string) (int, error)
}

type recordKey struct{ eventID, group string }

// MemoryRecords is an in-process RecordStore. Records written inside a
// MemoryTransactor transaction are staged until it commits; an insert that
// finds the pair taken at commit fails the transaction with ErrDuplicate.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

// NewMemoryRecords creates an empty store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[recordKey]Record)}
}

// recordWrite is what a transaction staged for one pair. rec is what reads
// inside the transaction see. A replay is merged again against committed
// state at Apply.
type recordWrite struct {
	rec    Record
	replay Record
	insert bool
}

type stagedRecords struct {
	store  *MemoryRecords
	writes map[recordKey]recordWrite
}

func (s *stagedRecords) Prepare() error {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for key, w := range s.writes {
		if _, taken := s.store.records[key]; w.insert && taken {
			return duplicate(key)
		}
	}
	return nil
}

func (s *stagedRecords) Apply() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for key, w := range s.writes {
		if w.insert {
			s.store.records[key] = w.rec
			continue
		}
		s.store.records[key] = mergeReplay(s.store.records[key], w.replay)
	}
}

func (m *MemoryRecords) openStage() *stagedRecords {
	return &stagedRecords{store: m, writes: make(map[recordKey]recordWrite)}
}

func (m *MemoryRecords) committed(key recordKey) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok
}

func (m *MemoryRecords) Find(ctx context.Context, eventID, group string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := recordKey{eventID, group}
	var (
		rec Record
		ok  bool
	)
	storage.Peek(ctx, m, func(s *stagedRecords) {
		var w recordWrite
		if w, ok = s.writes[key]; ok {
			rec = w.rec
		}
	})
	if !ok {
		rec, ok = m.committed(key)
	}
	if !ok {
		return nil, nil
	}
	rec.Headers = cloneHeaders(rec.Headers)
	return &rec, nil
}

func (m *MemoryRecords) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := recordKey{rec.EventID, rec.ProcessingGroup}
	rec.Headers = cloneHeaders(rec.Headers)

	staged, err := storage.Stage(ctx, m, m.openStage, func(s *stagedRecords) error {
		if _, ok := s.writes[key]; ok {
			return duplicate(key)
		}
		if _, ok := m.committed(key); ok {
			return duplicate(key)
		}
		s.writes[key] = recordWrite{rec: rec, insert: true}
		return nil
	})
	if staged {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return duplicate(key)
	}
	m.records[key] = rec
	return nil
}

func (m *MemoryRecords) UpsertReplay(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := recordKey{rec.EventID, rec.ProcessingGroup}
	rec.Headers = cloneHeaders(rec.Headers)

	staged, err := storage.Stage(ctx, m, m.openStage, func(s *stagedRecords) error {
		w, ok := s.writes[key]
		if !ok {
			w.rec, _ = m.committed(key)
		}
		w.rec = mergeReplay(w.rec, rec)
		if !w.insert {
			w.replay = mergeReplay(w.replay, rec)
		}
		s.writes[key] = w
		return nil
	})
	if staged {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = mergeReplay(m.records[key], rec)
	return nil
}

func (m *MemoryRecords) Count(ctx context.Context, group string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	seen := make(map[recordKey]struct{})
	for key := range m.records {
		if key.group == group {
			seen[key] = struct{}{}
		}
	}
	m.mu.RUnlock()
	storage.Peek(ctx, m, func(s *stagedRecords) {
		for key := range s.writes {
			if key.group == group {
				seen[key] = struct{}{}
			}
		}
	})
	return len(seen), nil
}

func duplicate(key recordKey) error {
	return fmt.Errorf("%w: event %s group %s", ErrDuplicate, key.eventID, key.group)
}

// mergeReplay marks prev as replayed at rec's time and merges rec's headers
// into it. A zero prev yields rec itself flagged as a replay.
func mergeReplay(prev, rec Record) Record {
	if prev.EventID == "" {
		next := rec
		next.IsReplay = true
		next.Headers = cloneHeaders(rec.Headers)
		return next
	}
	next := prev
	next.IsReplay = true
	next.Timestamp = rec.Timestamp
	next.Headers = mergeHeaders(prev.Headers, rec.Headers)
	return next
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func cloneHeaders(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
