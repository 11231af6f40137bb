package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/outbox"
)

// ErrNoDecoder is returned for an event type or envelope version the consumer
// does not understand.
var ErrNoDecoder = errors.New("no decoder registered")

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecodedEvent is a delivered outbox message with its typed payload.
type DecodedEvent struct {
	EventID  uuid.UUID
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// Decoders maps (event type, envelope version) to a payload decoder on the
// consuming side of the stream.
type Decoders struct {
	mu       sync.RWMutex
	decoders map[decoderKey]func(json.RawMessage) (any, error)
}

func NewDecoders() *Decoders {
	return &Decoders{decoders: make(map[decoderKey]func(json.RawMessage) (any, error))}
}

// Register decodes eventType@version payloads into *T.
func Register[T any](d *Decoders, eventType enums.OutboxEventType, version int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decoders[decoderKey{eventType: eventType, version: version}] = func(raw json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Decode parses the envelope in data and runs the decoder matching its version.
func (d *Decoders) Decode(eventType enums.OutboxEventType, data []byte) (*DecodedEvent, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return nil, fmt.Errorf("event id: %w", err)
	}

	d.mu.RLock()
	decode, ok := d.decoders[decoderKey{eventType: eventType, version: envelope.Version}]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, envelope.Version)
	}

	payload, err := decode(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return &DecodedEvent{EventID: eventID, Envelope: envelope, Payload: payload}, nil
}
