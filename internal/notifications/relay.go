package notifications

import (
	"context"
	"errors"
	"time"
)

// EventType names the order lifecycle change an Event reports.
type EventType string

const (
	EventNewOrder       EventType = "new_order"
	EventAcceptOrder    EventType = "accept_order"
	EventRejectOrder    EventType = "reject_order"
	EventCancelOrder    EventType = "cancel_order"
	EventShippingUpdate EventType = "shipping_update"
)

// ErrRelayStopped is returned when publishing to or subscribing on a relay that is not running.
var ErrRelayStopped = errors.New("notifications: relay is not running")

// Event is broadcast to every connected admin session.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Message    string    `json:"message"`
	OrderID    string    `json:"orderId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Relay fans order events out to subscribers. Delivery is best effort: there is no replay and no
// history, and a subscriber that falls behind loses events.
type Relay interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Publish(ctx context.Context, event Event) error
	Subscribe() (*Subscription, error)
}

// Subscription receives events until Close is called or the relay stops.
type Subscription struct {
	events <-chan Event
	cancel func()
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription from the relay.
func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}
