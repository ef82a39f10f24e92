package projection

import (
	"context"
	"errors"
	"fmt"

	"coffeeshop.io/coffeeshop/internal/eventstore"
)

// ErrUnknownGroup is returned for a processing group with no processor.
var ErrUnknownGroup = errors.New("unknown processing group")

// Registry holds the processor of every processing group.
type Registry struct {
	processors map[string]*Processor
	order      []string
}

// NewRegistry builds one processor per projection.
func NewRegistry(deps Deps, opts Options, projections ...Projection) *Registry {
	r := &Registry{processors: make(map[string]*Processor, len(projections))}
	for _, proj := range projections {
		r.processors[proj.Group()] = NewProcessor(proj, deps, opts)
		r.order = append(r.order, proj.Group())
	}
	return r
}

// DefaultProjections returns the order, payment and product projections.
func DefaultProjections(views Views, faults Faults) []Projection {
	return []Projection{
		NewOrderProjection(views, faults),
		NewPaymentProjection(views, faults),
		NewProductProjection(views, faults),
	}
}

// Get returns the processor for group.
func (r *Registry) Get(group string) (*Processor, error) {
	p, ok := r.processors[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	return p, nil
}

// Groups lists the registered groups in registration order.
func (r *Registry) Groups() []string {
	return append([]string(nil), r.order...)
}

// Subscribe wakes every processor after each append.
func (r *Registry) Subscribe(d *eventstore.Dispatcher) {
	for _, group := range r.order {
		d.Subscribe("processor:"+group, r.processors[group].Listener())
	}
}

// Start launches every tracking loop.
func (r *Registry) Start() error {
	for _, group := range r.order {
		if err := r.processors[group].Start(); err != nil {
			return err
		}
	}
	return nil
}

// CatchUp drains every group synchronously.
func (r *Registry) CatchUp(ctx context.Context) error {
	for _, group := range r.order {
		if _, err := r.processors[group].CatchUp(ctx); err != nil {
			return fmt.Errorf("catch up %s: %w", group, err)
		}
	}
	return nil
}

// Reset rewinds group for replay.
func (r *Registry) Reset(ctx context.Context, group string) (Token, error) {
	p, err := r.Get(group)
	if err != nil {
		return Token{}, err
	}
	return p.Reset(ctx)
}

// Statuses reports every group's progress.
func (r *Registry) Statuses(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(r.order))
	for _, group := range r.order {
		st, err := r.processors[group].Status(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
