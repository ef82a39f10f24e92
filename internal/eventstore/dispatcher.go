package eventstore

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// AppendListener is told about records right after they are committed.
type AppendListener func(ctx context.Context, records []Record)

// Dispatcher fans committed appends out to listeners. Listeners must not
// block; tracking processors use it only as a wake-up signal and read the
// log themselves.
type Dispatcher struct {
	listeners map[string]AppendListener
	mu        sync.RWMutex
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[string]AppendListener)}
}

// Subscribe registers a listener under name, replacing any previous one.
func (d *Dispatcher) Subscribe(name string, l AppendListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[name] = l
}

// Dispatch calls every listener. A panicking listener is logged and skipped
// so the other listeners still hear about the append.
func (d *Dispatcher) Dispatch(ctx context.Context, records []Record) {
	if d == nil || len(records) == 0 {
		return
	}
	d.mu.RLock()
	listeners := make(map[string]AppendListener, len(d.listeners))
	for name, l := range d.listeners {
		listeners[name] = l
	}
	d.mu.RUnlock()

	for name, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Append listener panicked",
						zap.String("listener", name),
						logger.AggregateID(records[0].AggregateID),
						zap.Any("panic", r),
					)
				}
			}()
			l(ctx, records)
		}()
	}
}
