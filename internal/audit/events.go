// Package audit provides structured security audit logging with redaction
// and a fail-open durable sink.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit event.
type EventType string

// Event types.
const (
	EventTypeDecision  EventType = "decision"
	EventTypeViolation EventType = "violation"
	EventTypeSession   EventType = "session"
	EventTypeAdmin     EventType = "administrative"
)

// Outcome is the result recorded with an event.
type Outcome string

// Outcomes.
const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeInfo    Outcome = "info"
)

// Subject identifies who the event is about.
type Subject struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Resource identifies what was accessed.
type Resource struct {
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Event is a single audit record.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Outcome   Outcome                `json:"outcome"`
	Reason    string                 `json:"reason,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	TraceID   string                 `json:"traceId,omitempty"`
	SpanID    string                 `json:"spanId,omitempty"`
	Subject   *Subject               `json:"subject,omitempty"`
	Resource  *Resource              `json:"resource,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh identifier and timestamp.
func NewEvent(eventType EventType, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Outcome:   outcome,
	}
}

// WithReason attaches the decision reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithRequestID attaches the request identifier.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithSubject attaches the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource attaches the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithMetadata attaches a metadata entry.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
