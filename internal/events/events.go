// Package events carries notification intents from the core to the transport.
// The core never formats chat markup; it publishes structured intents and the
// transport decides how to render and deliver them.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kinds of notification intents the core emits.
const (
	KindBookingConfirmed   = "booking.confirmed"
	KindBookingAdminNotice = "booking.admin_notice"
	KindCancelledByAdmin   = "booking.cancelled_by_admin"
	KindCancelledByClient  = "booking.cancelled_by_client"
	KindSlotDeleted        = "slot.deleted"
	KindReminderDayBefore  = "reminder.day_before"
	KindReminderSoon       = "reminder.soon"
)

// SlotNotice is the payload shared by booking, cancellation, deletion and
// reminder intents.
type SlotNotice struct {
	SlotID           int64     `json:"slot_id"`
	StartsAt         time.Time `json:"starts_at"`
	CustomerName     string    `json:"customer_name,omitempty"`
	CustomerUsername string    `json:"customer_username,omitempty"`
}

// Event is one notification intent addressed to a single recipient.
type Event struct {
	ID          string
	Kind        string
	RecipientID int64
	Payload     []byte
	CreatedAt   time.Time
}

// Handler reacts to an event. Delivery failures are the handler's problem;
// the bus never retries.
type Handler func(event Event) error

// Bus provides in-process pub/sub for notification intents.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event kind.
func (b *Bus) Subscribe(kind string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], handler)
}

// Publish notifies subscribers of the event kind. Handlers run synchronously;
// the caller decides the concurrency model.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Kind]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON marshals payload and publishes it under the given kind.
func (b *Bus) PublishJSON(kind string, recipientID int64, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.Publish(Event{Kind: kind, RecipientID: recipientID, Payload: data})
	return nil
}
