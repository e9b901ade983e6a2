package repository

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"wificonf/internal/profile"
)

// Event types
const (
	EventAdded                = "profile_added"
	EventUpdated              = "profile_updated"
	EventRemoved              = "profile_removed"
	EventTemporarilyDisabled  = "profile_temporarily_disabled"
	EventPermanentlyDisabled  = "profile_permanently_disabled"
	EventEnabled              = "profile_enabled"
	EventConnectChoiceSet     = "connect_choice_set"
	EventConnectChoiceRemoved = "connect_choice_removed"
	EventUserSwitched         = "user_switched"
	EventStoreLoaded          = "store_loaded"
)

// Event records one observable repository change. Profile snapshots are
// always masked.
type Event struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Time    time.Time        `json:"time"`
	Profile *profile.Profile `json:"profile,omitempty"`
	Old     *profile.Profile `json:"old,omitempty"`
	// Keys lists the profiles touched by a connect-choice change.
	Keys   []string `json:"keys,omitempty"`
	Reason string   `json:"reason,omitempty"`
	User   int      `json:"user,omitempty"`
}

func (r *Repository) emit(typ string, p *profile.Profile, mod func(*Event)) {
	ev := Event{
		ID:   uuid.NewString(),
		Type: typ,
		Time: r.clock.Now(),
	}
	if p != nil {
		ev.Profile = p.Masked()
	}
	if mod != nil {
		mod(&ev)
	}
	r.events = append(r.events, ev)
}

// TakeEvents returns and clears the queued events in the order they occurred.
func (r *Repository) TakeEvents() []Event {
	out := r.events
	r.events = nil
	return out
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus fans repository events out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On subscribes to one event type and returns the unsubscribe function.
func (b *EventBus) On(eventType string, h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]EventHandler)
	}
	b.handlers[eventType][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll subscribes to every event type.
func (b *EventBus) OnAll(h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit delivers ev synchronously. A panicking handler is recovered and logged.
func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	hs := make([]EventHandler, 0, len(b.handlers[ev.Type])+len(b.allHandlers))
	for _, h := range b.handlers[ev.Type] {
		hs = append(hs, h)
	}
	for _, h := range b.allHandlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					b.logger.Error("event handler panic", "type", ev.Type, "panic", rec)
				}
			}()
			h(ev)
		}()
	}
}
