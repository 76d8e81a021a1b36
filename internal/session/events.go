package session

import (
	"sync"
	"time"
)

// EventType names the kinds of events a session emits to its channel.
type EventType string

const (
	// EventToken carries one incremental chunk of generator output.
	EventToken EventType = "llm_response"
	// EventEnd carries the generator's complete reply for a round.
	EventEnd EventType = "llm_end"
	// EventAwaitingApproval signals that a proposed command is paused
	// waiting for an operator decision.
	EventAwaitingApproval EventType = "awaiting_approval"
	// EventRecord signals that a transcript entry was appended or its
	// outcome filled in.
	EventRecord EventType = "record"
	// EventStatus signals a session status transition.
	EventStatus EventType = "status"
)

// Event is one entry in a session's append-only event log.
type Event struct {
	Seq  int64          `json:"seq"`
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// EventLog is the single source of truth behind both read adapters: the SSE
// push stream replays and subscribes to it, and the poll snapshot is derived
// from the same state transitions that feed it.
//
// Delivery to subscribers is at-least-once for a reconnecting client (via
// Since-replay) but lossy for a subscriber that falls behind: a full
// channel drops the event rather than stalling the session. Clients recover
// through the pull-style status query.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	subs   map[int]chan Event
	nextID int
	seq    int64
}

// NewEventLog returns an empty log ready for appends and subscriptions.
func NewEventLog() *EventLog {
	return &EventLog{subs: make(map[int]chan Event)}
}

// Append records an event and fans it out to all current subscribers.
func (l *EventLog) Append(t EventType, data map[string]any) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	ev := Event{Seq: l.seq, Type: t, Data: data, At: time.Now()}
	l.events = append(l.events, ev)

	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; it will catch up via Since
			// or the poll endpoint.
		}
	}
	return ev
}

// Since returns all events with Seq greater than seq, oldest first.
// Pass 0 for the full history.
func (l *EventLog) Since(seq int64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is closed by cancel, never by Append.
func (l *EventLog) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	ch := make(chan Event, buffer)
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
