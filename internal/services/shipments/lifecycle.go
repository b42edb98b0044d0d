package shipments

import (
	"time"

	"github.com/BearBump/ShipSync/internal/models"
)

// statusMap is the fixed carrier-status → internal-status table. Raw
// statuses outside the table leave the internal status unchanged.
var statusMap = map[string]string{
	models.CarrierStatusDelivered:          models.InternalStatusDelivered,
	models.CarrierStatusInTransit:          models.InternalStatusInTransit,
	models.CarrierStatusOutForDelivery:     models.InternalStatusInTransit,
	models.CarrierStatusAvailableForPickup: models.InternalStatusInTransit,
	models.CarrierStatusReturnToSender:     models.InternalStatusReturned,
	models.CarrierStatusFailure:            models.InternalStatusException,
	models.CarrierStatusUnknown:            models.InternalStatusShipped,
}

var validInternalStatus = map[string]bool{
	models.InternalStatusCreated:        true,
	models.InternalStatusLabelPurchased: true,
	models.InternalStatusShipped:        true,
	models.InternalStatusInTransit:      true,
	models.InternalStatusDelivered:      true,
	models.InternalStatusException:      true,
	models.InternalStatusReturned:       true,
}

// isTerminal marks states routine processing never leaves. Later events
// still append history and may latch needsAttention, but only a manual
// correction moves the internal status away.
func isTerminal(status string) bool {
	return status == models.InternalStatusDelivered || status == models.InternalStatusReturned
}

// Outcome is the post-transition state for one shipment after one canonical
// tracking event. When Applied is false the event was stale (or carried no
// status) and only history/audit should be written.
type Outcome struct {
	Applied bool

	InternalStatus string
	TrackingStatus *models.TrackingStatus
	ETA            *time.Time
	DeliveryDate   *time.Time
	LastEventTime  *time.Time
	NeedsAttention bool
}

// ApplyEvent runs the transition function. It never mutates sh.
//
// Carriers redeliver and deliver out of order, so "last webhook wins" is
// unsafe: an event older than the one already applied keeps the current
// state intact (the out-of-order guard) and only lands in history.
func ApplyEvent(sh *models.Shipment, ev *models.CanonicalEvent) Outcome {
	out := Outcome{
		InternalStatus: sh.InternalStatus,
		TrackingStatus: sh.TrackingStatus,
		ETA:            sh.ETA,
		DeliveryDate:   sh.DeliveryDate,
		LastEventTime:  sh.LastEventTime,
		NeedsAttention: sh.NeedsAttention,
	}

	// The attention flag latches regardless of ordering and is never
	// auto-cleared; clearing is a manual action.
	if ev.Status.Substatus.ActionRequired {
		out.NeedsAttention = true
	}

	if ev.Status.Status == "" {
		return out
	}
	if sh.LastEventTime != nil && ev.Status.EventTime.Before(*sh.LastEventTime) {
		return out
	}

	out.Applied = true
	eventTime := ev.Status.EventTime
	out.LastEventTime = &eventTime

	status := ev.Status
	out.TrackingStatus = &status
	if ev.ETA != nil {
		out.ETA = ev.ETA
	}

	if mapped, ok := statusMap[ev.Status.Status]; ok {
		if !isTerminal(sh.InternalStatus) || mapped == sh.InternalStatus {
			out.InternalStatus = mapped
		}
	}

	if out.InternalStatus == models.InternalStatusDelivered && out.DeliveryDate == nil {
		out.DeliveryDate = &eventTime
	}

	return out
}
