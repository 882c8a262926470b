package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeTask   EventType = "task"
	EventTypeLog    EventType = "log"
)

type Event struct {
	JobID     string
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

// subscriberBuffer bounds how far a slow SSE client may lag before events
// for it are dropped.
const subscriberBuffer = 100

// EventBus fans job events out to SSE subscribers.
type EventBus struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	subs    map[string][]chan Event
	dropped atomic.Int64
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger, subs: make(map[string][]chan Event)}
}

// Subscribe registers a listener for one job. The returned func removes it
// and closes the channel; calling it twice is safe.
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			rest := slices.DeleteFunc(b.subs[jobID], func(c chan Event) bool { return c == ch })
			if len(rest) == 0 {
				delete(b.subs, jobID)
			} else {
				b.subs[jobID] = rest
			}
			close(ch)
		})
	}
}

// Publish delivers e to every listener of its job without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber lagging, event dropped", "job_id", e.JobID, "type", e.Type)
		}
	}
}

// Dropped reports how many events were discarded for slow subscribers.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Emit marshals payload and publishes it. A nil bus is a no-op so services can
// run without one.
func (b *EventBus) Emit(jobID string, typ EventType, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	b.Publish(Event{
		JobID:     jobID,
		Type:      typ,
		Data:      string(data),
		Timestamp: time.Now().Unix(),
	})
}
