package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/store"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Categories.
const (
	CategoryAuth     = "auth"
	CategoryUser     = "user"
	CategoryAdmin    = "admin"
	CategorySecurity = "security"
	CategorySystem   = "system"
)

var (
	ErrDropped = errors.New("audit: event dropped, buffer full")
	ErrClosed  = errors.New("audit: dispatcher closed")
)

// Event is one security-relevant transition. ID is assigned by the first
// sink that sees the event when empty.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       string         `json:"user_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Action       string         `json:"action"`
	Category     string         `json:"category"`
	Severity     string         `json:"severity"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Sink persists or forwards events and returns the event id.
type Sink interface {
	Log(ctx context.Context, event Event) (string, error)
}

func prepare(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Log(_ context.Context, e Event) (string, error) {
	prepare(&e)
	return e.ID, nil
}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Log(ctx context.Context, e Event) (string, error) {
	prepare(&e)
	select {
	case s.events <- e:
		return e.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Log(_ context.Context, e Event) (string, error) {
	prepare(&e)
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return "", err
	}
	return e.ID, nil
}

// StoreSink writes events to the activity table.
type StoreSink struct {
	activity store.Activity
}

func NewStoreSink(activity store.Activity) *StoreSink {
	return &StoreSink{activity: activity}
}

func (s *StoreSink) Log(ctx context.Context, e Event) (string, error) {
	prepare(&e)
	err := s.activity.InsertActivity(ctx, store.ActivityEntry{
		ID:           e.ID,
		UserID:       e.UserID,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Action:       e.Action,
		Category:     e.Category,
		Severity:     e.Severity,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Metadata:     e.Metadata,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.Timestamp,
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// MultiSink fans an event out to several sinks under one id. The first
// error is returned after every sink has been tried.
type MultiSink []Sink

func (m MultiSink) Log(ctx context.Context, e Event) (string, error) {
	prepare(&e)
	var first error
	for _, s := range m {
		if _, err := s.Log(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return e.ID, first
}
