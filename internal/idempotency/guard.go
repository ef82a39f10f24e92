package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/storage"
)

// Outcome is what the guard did with one delivery.
type Outcome int

const (
	// Applied means the handler ran and its writes committed.
	Applied Outcome = iota
	// Skipped means a record already existed and the handler did not run.
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "applied"
}

// Handler applies one event inside the guard's transaction.
type Handler func(ctx context.Context, env eventstore.Envelope) error

// Guard runs a projection handler at most once per (event, group) outside
// replay. The read-model write and the record write commit together; a
// failing handler leaves no record behind.
type Guard struct {
	records RecordStore
	tx      storage.Transactor
	now     func() time.Time
}

// NewGuard creates a Guard.
func NewGuard(records RecordStore, tx storage.Transactor) *Guard {
	return &Guard{
		records: records,
		tx:      tx,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle delivers env to handler for group. extra runs in the same
// transaction after the handler succeeded (processors advance their token
// there) and also runs for skipped duplicates.
func (g *Guard) Handle(ctx context.Context, group string, env eventstore.Envelope, handler Handler, extra func(ctx context.Context) error) (Outcome, error) {
	aggregateID := ExtractAggregateID(env)
	if aggregateID == "" {
		logger.Warn("No aggregate id on event, proceeding without idempotency",
			logger.ProcessingGroup(group),
			logger.EventID(env.Record.EventID),
			logger.EventType(string(env.Record.EventType)),
		)
		err := g.tx.InTx(ctx, func(ctx context.Context) error {
			if err := handler(ctx, env); err != nil {
				return err
			}
			return runExtra(ctx, extra)
		})
		return Applied, err
	}

	outcome := Applied
	err := g.tx.InTx(ctx, func(ctx context.Context) error {
		if !env.Replay {
			existing, err := g.records.Find(ctx, env.Record.EventID, group)
			if err != nil {
				return err
			}
			if existing != nil {
				logger.Debug("Duplicate delivery skipped",
					logger.ProcessingGroup(group),
					logger.EventID(env.Record.EventID),
					logger.AggregateID(aggregateID),
				)
				outcome = Skipped
				return runExtra(ctx, extra)
			}
		}

		if err := handler(ctx, env); err != nil {
			return err
		}

		rec := Record{
			ID:              uuid.NewString(),
			EventID:         env.Record.EventID,
			AggregateID:     aggregateID,
			ProcessingGroup: group,
			Timestamp:       g.now(),
			Headers:         headersFor(env),
			IsReplay:        env.Replay,
		}
		if env.Replay {
			if err := g.records.UpsertReplay(ctx, rec); err != nil {
				return err
			}
		} else if err := g.records.Insert(ctx, rec); err != nil {
			return err
		}
		return runExtra(ctx, extra)
	})

	// lost a race with a concurrent delivery of the same event: its writes won
	if errors.Is(err, ErrDuplicate) {
		logger.Debug("Concurrent duplicate delivery rolled back",
			logger.ProcessingGroup(group),
			logger.EventID(env.Record.EventID),
		)
		if extraErr := g.tx.InTx(ctx, func(ctx context.Context) error { return runExtra(ctx, extra) }); extraErr != nil {
			return Skipped, extraErr
		}
		return Skipped, nil
	}
	if err != nil {
		return Applied, err
	}
	return outcome, nil
}

func runExtra(ctx context.Context, extra func(ctx context.Context) error) error {
	if extra == nil {
		return nil
	}
	return extra(ctx)
}

func headersFor(env eventstore.Envelope) map[string]string {
	h := make(map[string]string, len(env.Record.Metadata)+1)
	for k, v := range env.Record.Metadata {
		h[k] = v
	}
	if env.Replay {
		h[HeaderReplay] = strconv.FormatBool(true)
	}
	return h
}

// ExtractAggregateID finds the aggregate id for env: metadata headers first,
// then the event's own correlation id, then an "id" field or any top-level
// field ending in "Id" on the payload.
func ExtractAggregateID(env eventstore.Envelope) string {
	for _, key := range []string{HeaderEntityID, HeaderAggregateID, HeaderAxonAggregateID} {
		if v := strings.TrimSpace(env.Record.Metadata[key]); v != "" {
			return v
		}
	}
	if env.Event != nil {
		if id := strings.TrimSpace(env.Event.AggregateID()); id != "" {
			return id
		}
	}
	return payloadAggregateID(env.Record.Payload)
}

func payloadAggregateID(payload []byte) string {
	if v := gjson.GetBytes(payload, "id"); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
		return v.Str
	}
	var found string
	gjson.ParseBytes(payload).ForEach(func(key, value gjson.Result) bool {
		if strings.HasSuffix(key.Str, "Id") && value.Type == gjson.String && strings.TrimSpace(value.Str) != "" {
			found = value.Str
			return false
		}
		return true
	})
	return found
}
