package events

import (
	"context"
	"time"
)

const (
	TypeSpinCommitted        = "spin.committed"
	TypeSpinResolved         = "spin.resolved"
	TypeFulfillmentSucceeded = "fulfillment.succeeded"
	TypeFulfillmentFailed    = "fulfillment.failed"
	TypeLeaseExpired         = "pending.lease_expired"
)

// Event is the envelope written to the event topic, keyed by wallet.
type Event struct {
	Type      string    `json:"type"`
	Wallet    string    `json:"wallet"`
	SpinID    string    `json:"spinId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher must not block the request path; delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

type nop struct{}

// Nop drops every event. Used when no brokers are configured.
var Nop Publisher = nop{}

func (nop) Publish(context.Context, Event) {}
func (nop) Close() error { return nil }
