package deadletter

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu      sync.RWMutex
	letters map[string]Letter // by id
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{letters: make(map[string]Letter)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, l Letter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.ID == "" || l.ProcessingGroup == "" || l.SequenceKey == "" {
		return fmt.Errorf("dead letter requires id, group and sequence key")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.letters {
		if existing.ProcessingGroup == l.ProcessingGroup && existing.EventID == l.EventID {
			return nil
		}
	}
	l.Diagnostics = cloneDiagnostics(l.Diagnostics)
	q.letters[l.ID] = l
	return nil
}

func (q *MemoryQueue) Contains(ctx context.Context, group, sequenceKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, l := range q.letters {
		if l.ProcessingGroup == group && l.SequenceKey == sequenceKey {
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue) Sequences(ctx context.Context, group string) ([]Sequence, error) {
	letters, err := q.List(ctx, group, 0)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*Sequence)
	var keys []string
	for _, l := range letters {
		s, ok := byKey[l.SequenceKey]
		if !ok {
			// letters arrive ordered by position, so the first one is the head
			s = &Sequence{Key: l.SequenceKey, LastTouched: l.LastTouched, HeadAttempts: l.Attempts, HeadNextAttemptAt: l.NextAttemptAt}
			byKey[l.SequenceKey] = s
			keys = append(keys, l.SequenceKey)
		}
		s.Size++
	}
	out := make([]Sequence, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastTouched.Before(out[j].LastTouched) })
	return out, nil
}

func (q *MemoryQueue) Letters(ctx context.Context, group, sequenceKey string) ([]Letter, error) {
	letters, err := q.List(ctx, group, 0)
	if err != nil {
		return nil, err
	}
	out := letters[:0]
	for _, l := range letters {
		if l.SequenceKey == sequenceKey {
			out = append(out, l)
		}
	}
	return out, nil
}

func (q *MemoryQueue) List(ctx context.Context, group string, limit int) ([]Letter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.RLock()
	out := make([]Letter, 0, len(q.letters))
	for _, l := range q.letters {
		if l.ProcessingGroup == group {
			l.Diagnostics = cloneDiagnostics(l.Diagnostics)
			out = append(out, l)
		}
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SequenceKey != out[j].SequenceKey {
			return out[i].SequenceKey < out[j].SequenceKey
		}
		return out[i].Position < out[j].Position
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) Evict(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.letters[id]; !ok {
		return fmt.Errorf("%w: %s", ErrLetterNotFound, id)
	}
	delete(q.letters, id)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, l Letter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	existing, ok := q.letters[l.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLetterNotFound, l.ID)
	}
	existing.Attempts = l.Attempts
	existing.Cause = l.Cause
	existing.Diagnostics = cloneDiagnostics(l.Diagnostics)
	existing.LastTouched = l.LastTouched
	existing.NextAttemptAt = l.NextAttemptAt
	q.letters[l.ID] = existing
	return nil
}

func (q *MemoryQueue) Size(ctx context.Context, group string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, l := range q.letters {
		if l.ProcessingGroup == group {
			n++
		}
	}
	return n, nil
}
