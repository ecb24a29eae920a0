// Package events defines the change-notification envelope the HandyConnect
// backend pushes to clients, and the client-side wrapper applied to each
// received notification before batching.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Known event type vocabulary. The server may add new types at any time;
// unrecognized types are carried through ingestion and dropped at dispatch.
const (
	// TypeEntityCreated a task, case, or thread was created
	TypeEntityCreated = "entity-created"
	// TypeEntityUpdated a task, case, or thread changed
	TypeEntityUpdated = "entity-updated"
	// TypeEntityDeleted a task, case, or thread was removed
	TypeEntityDeleted = "entity-deleted"
	// TypeStatsUpdated the aggregate analytics counters changed
	TypeStatsUpdated = "aggregate-stats-updated"
	// TypeThreadUpdated an email thread gained messages
	TypeThreadUpdated = "thread-updated"
)

// Envelope is the wire framing of one server-pushed change notification
type Envelope struct {
	// Type is the event category tag
	Type string `json:"type" validate:"required"`
	// Payload is the type-specific JSON structure: entity snapshot or ID
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate the envelope
func (e Envelope) Validate(validate *validator.Validate) error {
	return validate.Struct(&e)
}

// ParseEnvelope deserialize one wire frame into an Envelope
func ParseEnvelope(frame []byte, validate *validator.Validate) (Envelope, error) {
	var result Envelope
	if err := json.Unmarshal(frame, &result); err != nil {
		return Envelope{}, err
	}
	if err := result.Validate(validate); err != nil {
		return Envelope{}, err
	}
	return result, nil
}

// InboundEvent one received change notification with client-side metadata
type InboundEvent struct {
	// Type is the event category tag
	Type string `json:"type"`
	// Payload is the type-specific JSON structure
	Payload json.RawMessage `json:"payload,omitempty"`
	// ReceivedAt is the client-side timestamp of arrival
	ReceivedAt time.Time `json:"received_at"`
	// EntityUpdatedAt is the update timestamp embedded in the payload, when
	// present. Used for staleness comparison only.
	EntityUpdatedAt *time.Time `json:"entity_updated_at,omitempty"`
	// DedupeKey identifies the event in debug logging. It plays no part in
	// correctness; staleness is the only filter applied.
	DedupeKey string `json:"dedupe_key"`
}

// String produce ASCII representation
func (e InboundEvent) String() string {
	return fmt.Sprintf("%s@%s", e.DedupeKey, e.ReceivedAt.Format(time.RFC3339Nano))
}

// payloadMeta is the subset of payload fields the client itself inspects
type payloadMeta struct {
	ID        interface{} `json:"id,omitempty"`
	UpdatedAt interface{} `json:"updated_at,omitempty"`
}

// NewInboundEvent wrap an envelope into an InboundEvent, extracting the
// payload update timestamp and deriving the debug dedupe key. A payload which
// is not a JSON object, or which lacks the metadata fields, still produces a
// usable event; the metadata is best-effort.
func NewInboundEvent(envelope Envelope, receivedAt time.Time) InboundEvent {
	result := InboundEvent{
		Type:       envelope.Type,
		Payload:    envelope.Payload,
		ReceivedAt: receivedAt,
		DedupeKey:  envelope.Type,
	}
	if len(envelope.Payload) == 0 {
		return result
	}
	var meta payloadMeta
	if err := json.Unmarshal(envelope.Payload, &meta); err != nil {
		return result
	}
	if meta.ID != nil {
		result.DedupeKey = fmt.Sprintf("%s/%v", envelope.Type, meta.ID)
	}
	if updatedAt, ok := parseUpdateTimestamp(meta.UpdatedAt); ok {
		result.EntityUpdatedAt = &updatedAt
	}
	return result
}

// parseUpdateTimestamp interpret a payload "updated_at" value. The backend
// emits RFC3339 strings for entities; stats payloads carry Unix milliseconds.
func parseUpdateTimestamp(raw interface{}) (time.Time, bool) {
	switch value := raw.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return parsed, true
		}
	case float64:
		return time.UnixMilli(int64(value)), true
	}
	return time.Time{}, false
}
