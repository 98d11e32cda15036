package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published by the service.
const (
	TypeConfigUpdated         = "config.updated"
	TypeHealthChanged         = "integration.health_changed"
	TypeInstanceStatusChanged = "instance.status_changed"
	TypeInstanceQRCode        = "instance.qrcode"
	TypeMessageSent           = "message.sent"
	TypeWorkflowCreated       = "workflow.created"
	TypeWorkflowStatus        = "workflow.status_changed"
	TypeWorkflowExecuted      = "workflow.executed"
)

var supportedTypes = []string{
	TypeConfigUpdated,
	TypeHealthChanged,
	TypeInstanceStatusChanged,
	TypeInstanceQRCode,
	TypeMessageSent,
	TypeWorkflowCreated,
	TypeWorkflowStatus,
	TypeWorkflowExecuted,
}

var typeMap map[string]bool

func init() {
	typeMap = make(map[string]bool, len(supportedTypes))
	for _, t := range supportedTypes {
		typeMap[t] = true
	}
}

// IsValidType reports whether t is one of the published event types.
func IsValidType(t string) bool {
	return typeMap[t]
}

// Event is a domain notification. Subject names the thing that changed
// (config type, instance name, workflow id).
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	UserID     string                 `json:"user_id"`
	Subject    string                 `json:"subject"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType, userID, subject string, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		Subject:    subject,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events to a broker. Callers treat publish failures as
// non-fatal: the state change they describe is already committed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
