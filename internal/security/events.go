package security

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// EventLog is the append-only in-process record of security events.
// Appends also offer each event to a bounded export queue without blocking;
// when the queue is full the export copy is dropped and counted.
//
// A bounded log is a ring: once it holds maxEvents entries each append
// overwrites the oldest slot at head.
type EventLog struct {
	mu        sync.RWMutex
	events    []models.SecurityEvent
	head      int
	maxEvents int

	queue   chan models.SecurityEvent
	dropped atomic.Int64
}

// NewEventLog creates an EventLog holding at most maxEvents entries and an
// export queue of the given capacity
func NewEventLog(maxEvents, queueSize int) *EventLog {
	return &EventLog{
		maxEvents: maxEvents,
		queue:     make(chan models.SecurityEvent, queueSize),
	}
}

// Append records an event and returns false if its export copy was dropped
func (l *EventLog) Append(ev models.SecurityEvent) bool {
	l.mu.Lock()
	if l.maxEvents <= 0 || len(l.events) < l.maxEvents {
		l.events = append(l.events, ev)
	} else {
		l.events[l.head] = ev
		l.head = (l.head + 1) % len(l.events)
	}
	l.mu.Unlock()

	select {
	case l.queue <- ev:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// Queue is drained by the exporter
func (l *EventLog) Queue() <-chan models.SecurityEvent {
	return l.queue
}

// Dropped returns how many events never reached the export queue
func (l *EventLog) Dropped() int64 {
	return l.dropped.Load()
}

// Since returns a copy of the events stamped strictly after cutoff
func (l *EventLog) Since(cutoff time.Time) []models.SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.SecurityEvent, 0)
	for _, part := range [][]models.SecurityEvent{l.events[l.head:], l.events[:l.head]} {
		for _, ev := range part {
			if ev.Timestamp.After(cutoff) {
				out = append(out, ev)
			}
		}
	}
	return out
}

// Prune drops events stamped at or before cutoff
func (l *EventLog) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.events)
	if l.head != 0 {
		l.events = slices.Concat(l.events[l.head:], l.events[:l.head])
		l.head = 0
	}
	l.events = retainAfter(l.events, cutoff, func(ev models.SecurityEvent) time.Time { return ev.Timestamp })
	return before - len(l.events)
}

// Len returns the number of retained events
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// EventHookFunc receives every exported event, for forwarding to an
// external monitoring or alerting system
type EventHookFunc func(eventType, subject string, details map[string]interface{})
