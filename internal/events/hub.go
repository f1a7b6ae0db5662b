package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
)

// Type names an outbound lifecycle notification.
type Type string

const (
	BattleCreated     Type = "battle:created"
	ParticipantJoined Type = "battle:participant_joined"
	BattleUpdated     Type = "battle:updated"
	BattleEnded       Type = "battle:ended"
	BattleDeleted     Type = "battle:deleted"
)

// Event carries the full battle as payload; Result is set only for
// BattleEnded.
type Event struct {
	Type   Type
	Battle *domain.Battle
	Result *domain.BattleResult
	At     time.Time
}

// Handler receives events. Delivery is at-least-once; a handler that
// needs exactly-once must dedupe on (Type, Battle.ID, Battle.UpdatedAt).
type Handler func(Event)

// Hub fans lifecycle events out to registered handlers. All events flow
// through a single dispatch goroutine, so handlers observe events for
// any given battle in publish order.
type Hub struct {
	mu       sync.RWMutex
	handlers []Handler

	ch   chan Event
	done chan struct{}
	once sync.Once
}

const dispatchBuffer = 256

func NewHub() *Hub {
	h := &Hub{
		ch:   make(chan Event, dispatchBuffer),
		done: make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// Subscribe registers a handler for all subsequent events.
func (h *Hub) Subscribe(fn Handler) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.handlers = append(h.handlers, fn)
	h.mu.Unlock()
}

// Publish enqueues an event. Blocks when the dispatch queue is full
// rather than dropping: a slow consumer slows publishers, never loses
// events.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case h.ch <- ev:
	default:
		obslog.L().Warn("event_queue_full", zap.String("type", string(ev.Type)))
		h.ch <- ev
	}
}

func (h *Hub) dispatch() {
	for {
		select {
		case ev := <-h.ch:
			h.deliver(ev)
		case <-h.done:
			// drain remaining events before exiting
			for {
				select {
				case ev := <-h.ch:
					h.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Close stops dispatch after draining queued events.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}
