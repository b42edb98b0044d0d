// Package webhooks turns raw provider webhook payloads into canonical
// tracking events. Pure transforms, no side effects.
package webhooks

import (
	"encoding/json"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrMalformedPayload is the only rejection the gateway turns into a
	// non-2xx response.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrMissingTrackingNumber marks a tracking event we cannot resolve.
	ErrMissingTrackingNumber = errors.New("tracking event missing tracking_number")
)

// rawWebhook mirrors the provider's wire shape. Unknown fields are ignored;
// unknown event types pass through so new provider events never fail intake.
type rawWebhook struct {
	Event string `json:"event"`
	Test  bool   `json:"test"`
	Data  struct {
		ObjectID       string               `json:"object_id"`
		TrackingNumber string               `json:"tracking_number"`
		Carrier        string               `json:"carrier"`
		ServiceLevel   *models.ServiceLevel `json:"servicelevel"`
		Transaction    string               `json:"transaction"`
		ETA            string               `json:"eta"`
		TrackingStatus *struct {
			Status    string           `json:"status"`
			Substatus models.Substatus `json:"substatus"`
			Location  *models.Location `json:"location"`
			Datetime  string           `json:"datetime"`
		} `json:"tracking_status"`
		AddressFrom *models.Address `json:"address_from"`
		AddressTo   *models.Address `json:"address_to"`
	} `json:"data"`
}

// Normalize parses one webhook body. receivedAt backfills a missing status
// datetime, matching the original provider integration.
func Normalize(body []byte, receivedAt time.Time) (*models.CanonicalEvent, error) {
	var raw rawWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}

	ev := &models.CanonicalEvent{
		Event:          raw.Event,
		Test:           raw.Test,
		TrackingNumber: raw.Data.TrackingNumber,
		TransactionID:  raw.Data.Transaction,
		Carrier:        raw.Data.Carrier,
		ServiceLevel:   raw.Data.ServiceLevel,
		ETA:            parseTime(raw.Data.ETA),
		AddressFrom:    raw.Data.AddressFrom,
		AddressTo:      raw.Data.AddressTo,
		Raw:            json.RawMessage(body),
	}
	if ev.TransactionID == "" {
		ev.TransactionID = raw.Data.ObjectID
	}

	if raw.Data.TrackingStatus != nil {
		ev.Status = models.TrackingStatus{
			Status:    raw.Data.TrackingStatus.Status,
			Substatus: raw.Data.TrackingStatus.Substatus,
			Location:  raw.Data.TrackingStatus.Location,
		}
		if t := parseTime(raw.Data.TrackingStatus.Datetime); t != nil {
			ev.Status.EventTime = t.UTC()
		} else {
			ev.Status.EventTime = receivedAt.UTC()
		}
	}

	if ev.IsTracking() && ev.TrackingNumber == "" {
		return nil, ErrMissingTrackingNumber
	}

	return ev, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
