package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/bankmesh/core"
)

// Filter fields of events for turns that passed the content filter.
const (
	FilterCategoryNone = "None"
	ContentNotBlocked  = "User content Not blocked"
)

// Event is one published line: a persisted message, or a refusal when
// FilterCategory names the blocked category.
type Event struct {
	Timestamp         time.Time        `json:"timestamp"`
	TraceID           string           `json:"trace_id"`
	SessionID         string           `json:"session_id"`
	UserID            string           `json:"user_id"`
	AgentName         string           `json:"agent_name"`
	MessageType       core.MessageKind `json:"message_type"`
	Message           core.Message     `json:"message"`
	UserMessage       string           `json:"user_message"`
	FilterCategory    string           `json:"filter_category"`
	ContentFilterInfo string           `json:"content_filter_info"`
}

func newEvent(in Input, agent string, m core.Message, at time.Time) Event {
	return Event{
		Timestamp:         at,
		TraceID:           in.TraceID,
		SessionID:         in.SessionID,
		UserID:            in.UserID,
		AgentName:         agent,
		MessageType:       m.Kind(),
		Message:           m,
		UserMessage:       in.UserMessage(),
		FilterCategory:    FilterCategoryNone,
		ContentFilterInfo: ContentNotBlocked,
	}
}

// Publisher receives the events of reconciled turns. Publishing is best
// effort; errors are logged by the caller and never fail a turn.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// JSONLPublisher writes one JSON object per line.
type JSONLPublisher struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLPublisher writes events to w.
func NewJSONLPublisher(w io.Writer) *JSONLPublisher {
	p := &JSONLPublisher{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// OpenJSONL appends events to the file at path, creating it if needed.
func OpenJSONL(path string) (*JSONLPublisher, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open publisher: %w", err)
	}
	return NewJSONLPublisher(f), nil
}

// Publish implements Publisher.
func (p *JSONLPublisher) Publish(ctx context.Context, events ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.enc.Encode(ev); err != nil {
			return fmt.Errorf("trace: publish: %w", err)
		}
	}

	return nil
}

// Close closes the underlying writer when it is closable.
func (p *JSONLPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// MemoryPublisher keeps events per session in process. Events returns
// copies, so callers may modify them freely.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events map[string][]Event // sessionID -> events
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: make(map[string][]Event)}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, events ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range events {
		p.events[ev.SessionID] = append(p.events[ev.SessionID], ev)
	}
	return nil
}

// Events returns the events published for sessionID in order.
func (p *MemoryPublisher) Events(sessionID string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.events[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Sessions lists the sessions with at least one event.
func (p *MemoryPublisher) Sessions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.events))
	for id := range p.events {
		out = append(out, id)
	}
	return out
}

// Clear drops the events of sessionID.
func (p *MemoryPublisher) Clear(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, sessionID)
}
