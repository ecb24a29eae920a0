package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestParseEnvelope(t *testing.T) {
	assert := assert.New(t)
	validate := validator.New()

	// Case 0: well formed frame
	{
		frame := []byte(`{"type": "entity-updated", "payload": {"id": "task-1"}}`)
		parsed, err := ParseEnvelope(frame, validate)
		assert.Nil(err)
		assert.Equal(TypeEntityUpdated, parsed.Type)
		assert.NotEmpty(parsed.Payload)
	}

	// Case 1: payload is optional
	{
		frame := []byte(`{"type": "entity-deleted"}`)
		parsed, err := ParseEnvelope(frame, validate)
		assert.Nil(err)
		assert.Equal(TypeEntityDeleted, parsed.Type)
		assert.Empty(parsed.Payload)
	}

	// Case 2: type is not
	{
		frame := []byte(`{"payload": {"id": "task-1"}}`)
		_, err := ParseEnvelope(frame, validate)
		assert.NotNil(err)
	}

	// Case 3: not JSON at all
	{
		_, err := ParseEnvelope([]byte("not json"), validate)
		assert.NotNil(err)
	}

	// Case 4: unknown types still parse
	{
		frame := []byte(`{"type": "something-new"}`)
		parsed, err := ParseEnvelope(frame, validate)
		assert.Nil(err)
		assert.Equal("something-new", parsed.Type)
	}
}

func TestNewInboundEvent(t *testing.T) {
	assert := assert.New(t)

	receivedAt := time.Now()

	// Case 0: RFC3339 update timestamp
	{
		updatedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		envelope := Envelope{
			Type: TypeEntityUpdated,
			Payload: []byte(fmt.Sprintf(
				`{"id": "task-1", "updated_at": "%s"}`, updatedAt.Format(time.RFC3339),
			)),
		}
		event := NewInboundEvent(envelope, receivedAt)
		assert.Equal(TypeEntityUpdated, event.Type)
		assert.Equal(receivedAt, event.ReceivedAt)
		assert.Equal("entity-updated/task-1", event.DedupeKey)
		assert.NotNil(event.EntityUpdatedAt)
		assert.True(updatedAt.Equal(*event.EntityUpdatedAt))
	}

	// Case 1: Unix millisecond update timestamp
	{
		updatedAt := time.UnixMilli(1767225600123)
		envelope := Envelope{
			Type:    TypeStatsUpdated,
			Payload: []byte(fmt.Sprintf(`{"updated_at": %d}`, updatedAt.UnixMilli())),
		}
		event := NewInboundEvent(envelope, receivedAt)
		assert.Equal(TypeStatsUpdated, event.DedupeKey)
		assert.NotNil(event.EntityUpdatedAt)
		assert.True(updatedAt.Equal(*event.EntityUpdatedAt))
	}

	// Case 2: no payload
	{
		event := NewInboundEvent(Envelope{Type: TypeEntityDeleted}, receivedAt)
		assert.Equal(TypeEntityDeleted, event.DedupeKey)
		assert.Nil(event.EntityUpdatedAt)
	}

	// Case 3: payload is not an object
	{
		envelope := Envelope{Type: TypeEntityCreated, Payload: []byte(`[1, 2, 3]`)}
		event := NewInboundEvent(envelope, receivedAt)
		assert.Equal(TypeEntityCreated, event.DedupeKey)
		assert.Nil(event.EntityUpdatedAt)
	}

	// Case 4: unparseable update timestamp is ignored
	{
		envelope := Envelope{
			Type:    TypeEntityUpdated,
			Payload: []byte(`{"id": "case-7", "updated_at": "yesterday"}`),
		}
		event := NewInboundEvent(envelope, receivedAt)
		assert.Equal("entity-updated/case-7", event.DedupeKey)
		assert.Nil(event.EntityUpdatedAt)
	}

	// Case 5: numeric entity ID
	{
		envelope := Envelope{Type: TypeEntityUpdated, Payload: []byte(`{"id": 42}`)}
		event := NewInboundEvent(envelope, receivedAt)
		assert.Equal("entity-updated/42", event.DedupeKey)
	}
}
