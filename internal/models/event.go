package models

import (
	"encoding/json"
	"time"
)

// Webhook event types the provider sends. Anything else is accepted and
// acknowledged but treated as a no-op (forward compatibility).
const (
	EventTrackUpdated       = "track_updated"
	EventTransactionCreated = "transaction_created"
	EventTransactionUpdated = "transaction_updated"
	EventBatchCreated       = "batch_created"
	EventBatchPurchased     = "batch_purchased"
	EventManualUpdate       = "manual_update"
)

// CanonicalEvent is the normalized, carrier-agnostic form of one inbound
// webhook delivery.
type CanonicalEvent struct {
	Event string
	Test  bool

	TrackingNumber string
	TransactionID  string
	Carrier        string
	ServiceLevel   *ServiceLevel

	Status TrackingStatus
	ETA    *time.Time

	AddressFrom *Address
	AddressTo   *Address

	// Raw is the full payload as received, kept for the audit trail.
	Raw json.RawMessage
}

// IsTracking reports whether the event carries a tracking update that the
// state machine should apply.
func (e *CanonicalEvent) IsTracking() bool {
	return e.Event == EventTrackUpdated
}
