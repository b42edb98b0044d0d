package messages

import "time"

// ShipmentUpdated is published after every webhook event applied to a
// shipment. The notifier and downstream dashboards consume it.
type ShipmentUpdated struct {
	ShipmentID     uint64    `json:"shipment_id"`
	CompanyID      string    `json:"company_id"`
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier,omitempty"`

	InternalStatus string     `json:"internal_status"`
	RawStatus      string     `json:"raw_status,omitempty"`
	SubstatusCode  string     `json:"substatus_code,omitempty"`
	EventTime      *time.Time `json:"event_time,omitempty"`

	NeedsAttention   bool `json:"needs_attention,omitempty"`
	CustomerNotified bool `json:"customer_notified,omitempty"`
	IsTest           bool `json:"is_test,omitempty"`
}

// ShipmentAttention is published by the attention scanner for shipments
// that need operator review.
type ShipmentAttention struct {
	ShipmentID     uint64    `json:"shipment_id"`
	CompanyID      string    `json:"company_id"`
	TrackingNumber string    `json:"tracking_number"`
	InternalStatus string    `json:"internal_status"`
	Reason         string    `json:"reason"`
	FlaggedAt      time.Time `json:"flagged_at"`
}
