package notify

import (
	"context"
	"log"
)

// Notification is the payload handed to the delivery system. Delivery itself
// (push, SMS, email) lives outside this service.
type Notification struct {
	EventType       string   `json:"event_type"`
	BatchID         string   `json:"batch_id"`
	AffectedUserIDs []string `json:"affected_user_ids,omitempty"`
	Summary         string   `json:"summary"`
}

// Sink receives notifications for every committed engine mutation.
// Implementations must not block; the engine calls Notify after commit.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// Discard drops all notifications.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}

// Logger writes notifications to the process log.
type Logger struct{}

func (Logger) Notify(_ context.Context, n Notification) {
	log.Printf("notify: %s batch=%s users=%v %s", n.EventType, n.BatchID, n.AffectedUserIDs, n.Summary)
}

// Multi fans out to several sinks in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}
