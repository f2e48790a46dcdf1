// Package events broadcasts sweep progress and status messages to any number
// of listeners. Delivery is advisory: slow listeners miss events.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Reporter receives sweep notifications. Implementations must not block.
type Reporter interface {
	Progress(fraction float64)
	Message(text string)
}

// Kind tells progress events from message events.
type Kind string

const (
	KindProgress Kind = "progress"
	KindMessage  Kind = "message"
)

// Event is one published notification.
type Event struct {
	Kind     Kind      `json:"kind"`
	Time     time.Time `json:"time"`
	Progress float64   `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

const subscriberBuffer = 64

// Hub keeps a bounded message history and the latest progress, and fans out
// every event to its subscribers.
type Hub struct {
	mu           sync.RWMutex
	history      []Event
	historyLimit int
	progress     float64
	subscribers  map[chan Event]struct{}
}

// NewHub builds a hub that remembers up to historyLimit messages.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Event]struct{}),
	}
}

// Progress implements Reporter.
func (h *Hub) Progress(fraction float64) {
	h.publish(Event{Kind: KindProgress, Time: time.Now(), Progress: fraction})
}

// Message implements Reporter.
func (h *Hub) Message(text string) {
	h.publish(Event{Kind: KindMessage, Time: time.Now(), Message: text})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case KindProgress:
		h.progress = ev.Progress
	case KindMessage:
		h.history = append(h.history, ev)
		if len(h.history) > h.historyLimit {
			h.history = h.history[len(h.history)-h.historyLimit:]
		}
	}

	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Messages returns a copy of the remembered messages, oldest first.
func (h *Hub) Messages() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// LastMessage returns the most recent message, or "" if none was published.
func (h *Hub) LastMessage() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.history) == 0 {
		return ""
	}
	return h.history[len(h.history)-1].Message
}

// LastProgress returns the most recently published progress fraction.
func (h *Hub) LastProgress() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.progress
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// LogReporter writes notifications to the global logger.
type LogReporter struct{}

// Progress implements Reporter at debug level.
func (LogReporter) Progress(fraction float64) {
	log.Debug().Float64("progress", fraction).Msg("Sweep progress")
}

// Message implements Reporter.
func (LogReporter) Message(text string) {
	log.Info().Str("message", text).Msg("Sweep")
}

// MultiReporter fans notifications out to several reporters.
type MultiReporter []Reporter

// Progress implements Reporter.
func (m MultiReporter) Progress(fraction float64) {
	for _, r := range m {
		if r != nil {
			r.Progress(fraction)
		}
	}
}

// Message implements Reporter.
func (m MultiReporter) Message(text string) {
	for _, r := range m {
		if r != nil {
			r.Message(text)
		}
	}
}
