// Package eventstore is the append-only event log and snapshot store.
//
// Streams are keyed by aggregate id. Sequence numbers start at 0 and are
// gap-free within a stream; every record also gets a global position that
// tracking processors read in order. Appends carry the last sequence number
// the writer observed and fail with ErrConcurrencyConflict if another writer
// got there first.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coffeeshop.io/coffeeshop/internal/domain"
)

// NoStream is the expected sequence for a stream that must not exist yet.
const NoStream int64 = -1

// Metadata keys written on every record.
const (
	MetaAggregateID   = "aggregateId"
	MetaAggregateType = "aggregateType"
	MetaCorrelationID = "correlationId"
)

var (
	// ErrConcurrencyConflict means the stream moved past the expected sequence.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStreamExists means a creation append targeted an existing stream.
	ErrStreamExists = errors.New("stream already exists")
	// ErrSequenceGap means a stored stream is missing a sequence number.
	ErrSequenceGap = errors.New("event sequence gap")
	// ErrUnknownEventType means no decoder is registered for a stored type.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Record is one stored event.
type Record struct {
	GlobalPosition int64                `json:"globalPosition"`
	EventID        string               `json:"eventId"`
	AggregateType  domain.AggregateType `json:"aggregateType"`
	AggregateID    string               `json:"aggregateId"`
	Seq            int64                `json:"seq"`
	EventType      domain.EventType     `json:"eventType"`
	Revision       string               `json:"revision"`
	Payload        json.RawMessage      `json:"payload"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
	RecordedAt     time.Time            `json:"recordedAt"`
}

// Snapshot is a materialized aggregate state at Seq. StateRevision names the
// state schema; a snapshot written under another revision is ignored.
type Snapshot struct {
	AggregateID   string               `json:"aggregateId"`
	AggregateType domain.AggregateType `json:"aggregateType"`
	Seq           int64                `json:"seq"`
	StateRevision string               `json:"stateRevision"`
	State         json.RawMessage      `json:"state"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// Store is the event log.
type Store interface {
	// Append writes records after expectedLastSeq (NoStream for a new
	// stream) and returns them with Seq, GlobalPosition and RecordedAt set.
	Append(ctx context.Context, aggregateID string, expectedLastSeq int64, records []Record) ([]Record, error)
	// Load returns the stream's records with Seq > afterSeq in order.
	Load(ctx context.Context, aggregateID string, afterSeq int64) ([]Record, error)
	// ReadAll returns up to limit records with GlobalPosition > afterPosition in order.
	ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error)
	// LastPosition returns the highest global position, 0 when empty.
	LastPosition(ctx context.Context) (int64, error)
}

// SnapshotStore keeps the latest snapshot per aggregate instance.
type SnapshotStore interface {
	// LoadSnapshot returns nil without error when there is none.
	LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Envelope is a decoded record ready for delivery to a processing group.
type Envelope struct {
	Record Record
	Event  domain.Event
	// Replay marks redelivery during a projection rebuild.
	Replay bool
}

// CheckSequence verifies records continue a stream right after afterSeq.
func CheckSequence(afterSeq int64, records []Record) error {
	expected := afterSeq + 1
	for _, r := range records {
		if r.Seq != expected {
			return fmt.Errorf("%w: stream %s expected %d got %d", ErrSequenceGap, r.AggregateID, expected, r.Seq)
		}
		expected++
	}
	return nil
}

func validateAppend(aggregateID string, expectedLastSeq int64, records []Record) error {
	if aggregateID == "" {
		return fmt.Errorf("aggregate id is required")
	}
	if expectedLastSeq < NoStream {
		return fmt.Errorf("expected sequence must be >= %d", NoStream)
	}
	if len(records) == 0 {
		return fmt.Errorf("append requires at least one record")
	}
	for _, r := range records {
		if r.EventID == "" || r.EventType == "" {
			return fmt.Errorf("record requires event id and type")
		}
	}
	return nil
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
