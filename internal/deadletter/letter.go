// Package deadletter quarantines events a processing group failed to apply.
//
// Letters are grouped into sequences keyed by aggregate id. A sequence is
// always redriven head first, and a live event whose aggregate already has a
// sequence is queued behind it instead of being attempted, so one instance's
// events are never applied out of order. Failed redrives back off
// exponentially; once a sequence has used up its attempts it is parked and
// only counted, never retried.
package deadletter

import (
	"context"
	"errors"
	"time"

	"coffeeshop.io/coffeeshop/internal/eventstore"
)

// ErrLetterNotFound is returned when a letter id does not exist.
var ErrLetterNotFound = errors.New("dead letter not found")

// Diagnostic keys recorded with every letter.
const (
	DiagEventType     = "eventType"
	DiagAggregateType = "aggregateType"
	DiagSeq           = "seq"
	DiagQueuedBehind  = "queuedBehind"
	DiagLastError     = "lastError"
)

// Letter is one quarantined (event, processing group) pair. It carries the
// full stored record so a redrive needs nothing from the event log.
type Letter struct {
	ID              string            `json:"id"`
	ProcessingGroup string            `json:"processingGroup"`
	SequenceKey     string            `json:"sequenceKey"`
	EventID         string            `json:"eventId"`
	Position        int64             `json:"position"`
	Record          eventstore.Record `json:"record"`
	Replay          bool              `json:"replay"`
	Cause           string            `json:"cause"`
	Diagnostics     map[string]string `json:"diagnostics,omitempty"`
	Attempts        int               `json:"attempts"`
	EnqueuedAt      time.Time         `json:"enqueuedAt"`
	LastTouched     time.Time         `json:"lastTouched"`
	NextAttemptAt   time.Time         `json:"nextAttemptAt"`
}

// Sequence summarizes the letters of one aggregate in a group. LastTouched
// and the Head fields come from the oldest letter, which gates the whole
// sequence.
type Sequence struct {
	Key               string    `json:"sequenceKey"`
	Size              int       `json:"size"`
	LastTouched       time.Time `json:"lastTouched"`
	HeadAttempts      int       `json:"headAttempts"`
	HeadNextAttemptAt time.Time `json:"headNextAttemptAt"`
}

// Queue stores letters. Implementations keep letters per sequence ordered by
// Position.
type Queue interface {
	// Enqueue adds l. Enqueueing an event already present in the group is a
	// no-op.
	Enqueue(ctx context.Context, l Letter) error
	// Contains reports whether the sequence has any letters.
	Contains(ctx context.Context, group, sequenceKey string) (bool, error)
	// Sequences lists the group's sequences ordered by LastTouched, oldest first.
	Sequences(ctx context.Context, group string) ([]Sequence, error)
	// Letters returns the sequence's letters ordered by Position.
	Letters(ctx context.Context, group, sequenceKey string) ([]Letter, error)
	// List returns up to limit letters of the group ordered by sequence and
	// position; limit <= 0 means all.
	List(ctx context.Context, group string, limit int) ([]Letter, error)
	// Evict removes a letter.
	Evict(ctx context.Context, id string) error
	// Requeue stores a letter's updated attempt bookkeeping.
	Requeue(ctx context.Context, l Letter) error
	// Size counts the group's letters.
	Size(ctx context.Context, group string) (int, error)
}

// RetryPolicy bounds redrive attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries up to 10 times, backing off from 1m to 1h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Minute, MaxBackoff: time.Hour}
}

// Backoff returns the wait after the given number of failed attempts:
// base × 2^(attempts-1), capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxBackoff || d <= 0 {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Parked reports whether a sequence whose head has attempts failures is out
// of retries.
func (p RetryPolicy) Parked(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

func cloneDiagnostics(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
