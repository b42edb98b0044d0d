// Package notifier consumes shipment update messages and tells the customer
// their package is almost there.
package notifier

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	MarkCustomerNotified(ctx context.Context, shipmentID uint64) error
}

// Sender delivers the actual notification. The store flag flips only after
// Send returns, so a crash in between means at most one duplicate send.
type Sender interface {
	Send(ctx context.Context, shipmentID uint64, companyID, trackingNumber string) error
}

// LogSender is the default sink until a real channel is wired up.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, shipmentID uint64, companyID, trackingNumber string) error {
	slog.Info("customer notification",
		"shipment_id", shipmentID, "company_id", companyID, "tracking_number", trackingNumber)
	return nil
}

type Notifier struct {
	repo   Repository
	sender Sender
}

func New(repo Repository, sender Sender) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{repo: repo, sender: sender}
}

// Handle processes one shipment.updated message. A returned error blocks the
// consumer commit, so only transient failures (store, sender) return one;
// undecodable messages are logged and skipped.
func (n *Notifier) Handle(ctx context.Context, key, value []byte) error {
	var msg messages.ShipmentUpdated
	if err := json.Unmarshal(value, &msg); err != nil {
		slog.Error("undecodable shipment update, skipping", "key", string(key), "error", err.Error())
		return nil
	}

	if msg.RawStatus != models.CarrierStatusOutForDelivery {
		return nil
	}
	if msg.CustomerNotified || msg.IsTest {
		return nil
	}

	if err := n.sender.Send(ctx, msg.ShipmentID, msg.CompanyID, msg.TrackingNumber); err != nil {
		return errors.Wrap(err, "send customer notification")
	}
	if err := n.repo.MarkCustomerNotified(ctx, msg.ShipmentID); err != nil {
		return errors.Wrap(err, "mark customer notified")
	}
	return nil
}
