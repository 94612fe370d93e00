package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event.
type Type string

const (
	TypeCaseDetected        Type = "case_detected"
	TypeCaseSubmitted       Type = "case_submitted"
	TypeCaseRunning         Type = "case_running"
	TypeCaseCompleted       Type = "case_completed"
	TypeCaseFailed          Type = "case_failed"
	TypeCaseRecovered       Type = "case_recovered"
	TypeResourceQuarantined Type = "resource_quarantined"
	TypeResourceReleased    Type = "resource_released"
)

// Event represents a case lifecycle event.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      Type            `json:"type"`
	CaseID    uint            `json:"case_id,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(t Type, caseID uint, resource string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		CaseID:    caseID,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
	}
}

// Filter defines criteria for receiving events.
type Filter struct {
	CaseID uint
	Types  []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// NewBus creates a new in-process event bus.
func NewBus() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

func (b *bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if b.matches(filter, e) {
			select {
			case ch <- e:
			default:
				// Drop event if channel is full to prevent blocking
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *bus) matches(filter Filter, e Event) bool {
	if filter.CaseID != 0 && filter.CaseID != e.CaseID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
