package eventstore

import (
	"encoding/json"
	"fmt"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/upcast"
)

// Serializer converts between domain events and stored records. Decoding
// runs the upcaster chain first, so callers only ever see current schemas.
type Serializer struct {
	types map[domain.EventType]domain.EventDescriptor
	chain *upcast.Chain
}

// NewSerializer indexes descriptors. Duplicate types are a registration bug.
func NewSerializer(descriptors []domain.EventDescriptor, chain *upcast.Chain) (*Serializer, error) {
	s := &Serializer{types: make(map[domain.EventType]domain.EventDescriptor, len(descriptors)), chain: chain}
	for _, d := range descriptors {
		if _, dup := s.types[d.Type]; dup {
			return nil, fmt.Errorf("duplicate event descriptor %s", d.Type)
		}
		if d.Decode == nil {
			return nil, fmt.Errorf("event descriptor %s has no decoder", d.Type)
		}
		s.types[d.Type] = d
	}
	return s, nil
}

// Encode builds an unpositioned record for ev.
func (s *Serializer) Encode(ev domain.Event, eventID string, metadata map[string]string) (Record, error) {
	d, ok := s.types[ev.EventType()]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.EventType())
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	meta := cloneMetadata(metadata)
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	meta[MetaAggregateID] = ev.AggregateID()
	meta[MetaAggregateType] = string(d.Aggregate)
	return Record{
		EventID:       eventID,
		AggregateType: d.Aggregate,
		AggregateID:   ev.AggregateID(),
		EventType:     ev.EventType(),
		Revision:      d.Revision,
		Payload:       payload,
		Metadata:      meta,
	}, nil
}

// Decode upcasts and decodes a stored record.
func (s *Serializer) Decode(r Record) (domain.Event, error) {
	d, ok := s.types[r.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, r.EventType)
	}
	payload := []byte(r.Payload)
	revision := r.Revision
	if s.chain != nil {
		revision, payload = s.chain.Upcast(r.EventType, revision, payload)
	}
	if revision == "" {
		revision = upcast.InitialRevision
	}
	if revision != d.Revision {
		return nil, fmt.Errorf("decode %s: stored revision %q upcast to %q, current is %q", r.EventType, r.Revision, revision, d.Revision)
	}
	ev, err := d.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s event %s: %w", r.EventType, r.EventID, err)
	}
	return ev, nil
}

// Envelope decodes r for delivery.
func (s *Serializer) Envelope(r Record, replay bool) (Envelope, error) {
	ev, err := s.Decode(r)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Record: r, Event: ev, Replay: replay}, nil
}

// Descriptor returns the registration of an event type.
func (s *Serializer) Descriptor(t domain.EventType) (domain.EventDescriptor, bool) {
	d, ok := s.types[t]
	return d, ok
}
