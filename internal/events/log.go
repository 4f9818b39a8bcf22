// Package events keeps a capped in-memory trail of notable agent
// transitions plus the single user-visible status line.
package events

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"blinkd/internal/domain"
)

type Log struct {
	mu       sync.RWMutex
	limit    int
	events   []domain.Event
	status   domain.Status
	onAppend func(domain.Event)
}

func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 200
	}
	return &Log{
		limit:  limit,
		events: make([]domain.Event, 0, 64),
	}
}

// OnAppend registers a hook fired for every recorded event, used to
// fan events out to external sinks. Set it before the log is shared.
func (l *Log) OnAppend(fn func(domain.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = fn
}

func (l *Log) Append(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	l.mu.Lock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	l.events = append(l.events, event)
	if len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
	hook := l.onAppend
	l.mu.Unlock()

	if hook != nil {
		hook(event)
	}
	return event
}

// List returns up to limit most recent events, newest first.
func (l *Log) List(limit int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(l.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(l.events)-limit, 0)
	out := slices.Clone(l.events[start:])
	slices.Reverse(out)
	return out
}

// SetStatus replaces the status line shown on the dashboard.
func (l *Log) SetStatus(message string, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = domain.Status{
		Message: message,
		Error:   isError,
		At:      time.Now().UTC(),
	}
}

func (l *Log) Status() domain.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}
