package models

import "time"

// Internal lifecycle statuses. Distinct from the carrier's raw status
// strings (see CanonicalEvent.Status), which are mapped onto these.
const (
	InternalStatusCreated        = "CREATED"
	InternalStatusLabelPurchased = "LABEL_PURCHASED"
	InternalStatusShipped        = "SHIPPED"
	InternalStatusInTransit      = "IN_TRANSIT"
	InternalStatusDelivered      = "DELIVERED"
	InternalStatusException      = "EXCEPTION"
	InternalStatusReturned       = "RETURNED"
)

// Raw carrier statuses we recognize (Shippo vocabulary).
const (
	CarrierStatusDelivered          = "DELIVERED"
	CarrierStatusInTransit          = "IN_TRANSIT"
	CarrierStatusOutForDelivery     = "OUT_FOR_DELIVERY"
	CarrierStatusAvailableForPickup = "AVAILABLE_FOR_PICKUP"
	CarrierStatusReturnToSender     = "RETURN_TO_SENDER"
	CarrierStatusFailure            = "FAILURE"
	CarrierStatusUnknown            = "UNKNOWN"
)

type Substatus struct {
	Code           string `json:"code,omitempty"`
	Text           string `json:"text,omitempty"`
	ActionRequired bool   `json:"action_required,omitempty"`
}

type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

// TrackingStatus is one carrier status snapshot: the shipment's current one
// and every entry of its display timeline.
type TrackingStatus struct {
	Status    string    `json:"status"`
	Substatus Substatus `json:"substatus"`
	Location  *Location `json:"location,omitempty"`
	EventTime time.Time `json:"datetime"`
}

type Address struct {
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Street1 string `json:"street1,omitempty"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type ServiceLevel struct {
	Name  string `json:"name,omitempty"`
	Token string `json:"token,omitempty"`
}

type Package struct {
	Length       float64 `json:"length,omitempty"`
	Width        float64 `json:"width,omitempty"`
	Height       float64 `json:"height,omitempty"`
	DistanceUnit string  `json:"distance_unit,omitempty"`
	Weight       float64 `json:"weight,omitempty"`
	MassUnit     string  `json:"mass_unit,omitempty"`
}

// Money keeps amounts as strings: that is how the carrier API ships them
// and we never do arithmetic on them here.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Shipment is the aggregate root: one physical shipment with its current
// state, its display timeline and its raw webhook audit trail.
type Shipment struct {
	ID uint64

	CompanyID      string
	TrackingNumber string
	TransactionID  string

	Carrier      string
	ServiceLevel *ServiceLevel

	InternalStatus string
	TrackingStatus *TrackingStatus
	ETA            *time.Time

	ShipDate     *time.Time
	DeliveryDate *time.Time

	OrderID       string
	InvoiceNumber string
	LabelURL      string

	AddressFrom *Address
	AddressTo   *Address
	Packages    []Package
	Cost        *Money
	RetailCost  *Money
	Metadata    map[string]any

	// LastEventTime is the event time of the last applied tracking event;
	// the out-of-order guard compares incoming events against it.
	LastEventTime *time.Time
	LastWebhookAt *time.Time

	NeedsAttention     bool
	IsTest             bool
	CustomerNotified   bool
	CreatedFromWebhook bool

	// Version is the optimistic-concurrency token; conditional updates in
	// the store check and bump it.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one row of the display timeline (ordered by event time).
type HistoryEntry struct {
	ID         uint64
	ShipmentID uint64
	TrackingStatus
	CreatedAt time.Time
}

// WebhookEvent is one row of the raw audit trail (ordered by arrival time).
type WebhookEvent struct {
	ID          uint64
	ShipmentID  uint64
	CompanyID   string
	Event       string
	IsTest      bool
	ReceivedAt  time.Time
	PayloadJSON *string
}

// ShipmentStub is the minimal record the resolver synthesizes on a
// first-sight webhook when no owner exists yet.
type ShipmentStub struct {
	CompanyID      string
	TrackingNumber string
	TransactionID  string
	Carrier        string
	ServiceLevel   *ServiceLevel
	AddressFrom    *Address
	AddressTo      *Address
	ETA            *time.Time
	IsTest         bool
}

// PurchaseContext is the full shipment context the label-purchase workflow
// supplies; the sole non-webhook creator of shipment records.
type PurchaseContext struct {
	CompanyID      string
	UserID         string
	OrderID        string
	InvoiceNumber  string
	TransactionID  string
	TrackingNumber string
	LabelURL       string
	Carrier        string
	ServiceLevel   *ServiceLevel
	AddressFrom    *Address
	AddressTo      *Address
	Packages       []Package
	Cost           *Money
	RetailCost     *Money
	Metadata       map[string]any
	IsTest         bool
}

// StatusDisplay returns the most human-readable status available, matching
// what the dashboard shows.
func (s *Shipment) StatusDisplay() string {
	if s.TrackingStatus != nil {
		if s.TrackingStatus.Substatus.Text != "" {
			return s.TrackingStatus.Substatus.Text
		}
		if s.TrackingStatus.Status != "" {
			return s.TrackingStatus.Status
		}
	}
	return s.InternalStatus
}
