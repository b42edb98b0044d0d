package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/cache"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/webhooks"
	"github.com/BearBump/ShipSync/internal/storage/pgshipment"
	"github.com/pkg/errors"
)

type Repository interface {
	FindByTrackingNumber(ctx context.Context, companyID, trackingNumber string) (*models.Shipment, error)
	FindByTransactionID(ctx context.Context, companyID, transactionID string) (*models.Shipment, error)
	GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error)
	GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error)
	CreateMinimal(ctx context.Context, stub models.ShipmentStub) (*models.Shipment, error)
	CreateFromPurchase(ctx context.Context, pc models.PurchaseContext) (*models.Shipment, error)
	ApplyEventAndSave(ctx context.Context, upd pgshipment.ShipmentUpdate) error
	QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error)
	RecentShipments(ctx context.Context, companyID string, limit int) ([]*models.Shipment, error)
	ListTrackingHistory(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.HistoryEntry, error)
	ListWebhookEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.WebhookEvent, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration

	producer Producer
	topic    string

	rl               RateLimiter
	rateLogPerMinute int64

	retryAttempts int
	staleAfter    time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:          repo,
		cache:         c,
		currentTTL:    currentTTL,
		retryAttempts: 3,
		staleAfter:    48 * time.Hour,
	}
}

func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, logPerMinute int64) *Service {
	s.rl = rl
	s.rateLogPerMinute = logPerMinute
	return s
}

func (s *Service) WithRetries(attempts int) *Service {
	if attempts > 0 {
		s.retryAttempts = attempts
	}
	return s
}

func (s *Service) WithStaleAfter(d time.Duration) *Service {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// Receipt is what the gateway acknowledges to the carrier. Applied is
// internal bookkeeping; the carrier always gets a 200 once the payload
// parsed.
type Receipt struct {
	Event      string `json:"event"`
	CompanyID  string `json:"companyId,omitempty"`
	ShipmentID uint64 `json:"-"`
	Applied    bool   `json:"-"`
}

// ProcessWebhook runs one inbound delivery through normalize → resolve →
// transition → save. companyID comes from the webhook URL; empty means the
// legacy tenant-less endpoint. Errors bubble up only for malformed payloads
// and exhausted store retries — everything else is logged and acknowledged
// so the carrier stops redelivering what redelivery cannot fix.
func (s *Service) ProcessWebhook(ctx context.Context, companyID string, body []byte) (*Receipt, error) {
	now := time.Now().UTC()

	s.meterInbound(ctx, companyID, now)

	ev, err := webhooks.Normalize(body, now)
	if err != nil {
		if errors.Is(err, webhooks.ErrMissingTrackingNumber) {
			slog.Warn("tracking update missing required data", "company_id", companyID)
			return &Receipt{Event: models.EventTrackUpdated, CompanyID: companyID}, nil
		}
		return nil, err
	}

	rcpt := &Receipt{Event: ev.Event, CompanyID: companyID}

	switch ev.Event {
	case models.EventTrackUpdated:
		return s.applyTracking(ctx, companyID, ev, now)

	case models.EventTransactionCreated, models.EventTransactionUpdated:
		// Logged for future use; transaction events do not mutate shipments.
		slog.Info("transaction event received", "event", ev.Event, "transaction_id", ev.TransactionID, "company_id", companyID)
		return rcpt, nil

	case models.EventBatchCreated, models.EventBatchPurchased:
		slog.Info("batch event received", "event", ev.Event, "company_id", companyID)
		return rcpt, nil

	default:
		slog.Info("unknown webhook event type", "event", ev.Event, "company_id", companyID)
		return rcpt, nil
	}
}

func (s *Service) applyTracking(ctx context.Context, companyID string, ev *models.CanonicalEvent, now time.Time) (*Receipt, error) {
	rcpt := &Receipt{Event: ev.Event, CompanyID: companyID}

	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		sh, err := s.resolve(ctx, companyID, ev)
		if err != nil {
			lastErr = err
			continue
		}
		if sh == nil {
			// No owner and no tenant to create one under: drop after
			// logging. Redelivery cannot make this resolvable.
			slog.Warn("webhook event unresolvable, dropping",
				"tracking_number", ev.TrackingNumber, "transaction_id", ev.TransactionID)
			return rcpt, nil
		}

		out := ApplyEvent(sh, ev)
		upd := pgshipment.ShipmentUpdate{
			ShipmentID:       sh.ID,
			Version:          sh.Version,
			InternalStatus:   out.InternalStatus,
			TrackingStatus:   out.TrackingStatus,
			ETA:              out.ETA,
			ShipDate:         sh.ShipDate,
			DeliveryDate:     out.DeliveryDate,
			LastEventTime:    out.LastEventTime,
			LastWebhookAt:    now,
			NeedsAttention:   out.NeedsAttention,
			CustomerNotified: sh.CustomerNotified,
			Audit: &pgshipment.AuditEntry{
				Event:      ev.Event,
				IsTest:     ev.Test,
				ReceivedAt: now,
				Payload:    ev.Raw,
			},
		}
		if ev.Status.Status != "" {
			// Stale events still belong in the timeline (it is ordered by
			// event time); the dedup index absorbs redeliveries.
			upd.History = []models.TrackingStatus{ev.Status}
		}

		if err := s.repo.ApplyEventAndSave(ctx, upd); err != nil {
			if errors.Is(err, pgshipment.ErrVersionConflict) {
				slog.Info("concurrent update, retrying", "shipment_id", sh.ID, "attempt", attempt+1)
			}
			lastErr = err
			continue
		}

		rcpt.ShipmentID = sh.ID
		rcpt.Applied = out.Applied

		s.refreshCache(ctx, sh.ID)
		s.publishUpdated(ctx, sh, ev, out)

		if !out.Applied && ev.Status.Status != "" {
			slog.Info("out-of-order event recorded without state change",
				"shipment_id", sh.ID, "status", ev.Status.Status, "event_time", ev.Status.EventTime)
		}
		return rcpt, nil
	}

	return nil, errors.Wrapf(lastErr, "apply tracking update after %d attempts", s.retryAttempts)
}

// resolve finds the owning shipment: tenant+tracking number first, then
// tenant+transaction id, creating a minimal stub on a first-sight event
// when the tenant is known.
func (s *Service) resolve(ctx context.Context, companyID string, ev *models.CanonicalEvent) (*models.Shipment, error) {
	if companyID == "" {
		slog.Warn("legacy webhook: tenant-unscoped shipment lookup", "tracking_number", ev.TrackingNumber)
	}

	sh, err := s.repo.FindByTrackingNumber(ctx, companyID, ev.TrackingNumber)
	if err != nil {
		return nil, err
	}
	if sh == nil && ev.TransactionID != "" {
		sh, err = s.repo.FindByTransactionID(ctx, companyID, ev.TransactionID)
		if err != nil {
			return nil, err
		}
	}
	if sh != nil {
		return sh, nil
	}
	if companyID == "" {
		return nil, nil
	}

	slog.Info("creating shipment from webhook", "company_id", companyID, "tracking_number", ev.TrackingNumber)
	return s.repo.CreateMinimal(ctx, models.ShipmentStub{
		CompanyID:      companyID,
		TrackingNumber: ev.TrackingNumber,
		TransactionID:  ev.TransactionID,
		Carrier:        ev.Carrier,
		ServiceLevel:   ev.ServiceLevel,
		AddressFrom:    ev.AddressFrom,
		AddressTo:      ev.AddressTo,
		ETA:            ev.ETA,
		IsTest:         ev.Test,
	})
}

func (s *Service) meterInbound(ctx context.Context, companyID string, now time.Time) {
	if s.rl == nil || s.rateLogPerMinute <= 0 {
		return
	}
	tenant := companyID
	if tenant == "" {
		tenant = "legacy"
	}
	key := fmt.Sprintf("rl:webhook:%s:%s", tenant, now.Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, key, s.rateLogPerMinute, 70*time.Second)
	if err == nil && !allowed {
		// Log only: the intake contract is 200 for anything parseable.
		slog.Warn("webhook burst detected", "company_id", tenant, "count", n)
	}
}

func (s *Service) refreshCache(ctx context.Context, shipmentID uint64) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	ts, err := s.repo.GetShipmentsByIDs(ctx, []uint64{shipmentID})
	if err == nil && len(ts) == 1 {
		b, _ := json.Marshal(ts[0])
		_ = s.cache.Set(ctx, currentKey(shipmentID), b, s.currentTTL)
	}
}

func (s *Service) publishUpdated(ctx context.Context, sh *models.Shipment, ev *models.CanonicalEvent, out Outcome) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.ShipmentUpdated{
		ShipmentID:       sh.ID,
		CompanyID:        sh.CompanyID,
		TrackingNumber:   sh.TrackingNumber,
		Carrier:          sh.Carrier,
		InternalStatus:   out.InternalStatus,
		RawStatus:        ev.Status.Status,
		SubstatusCode:    ev.Status.Substatus.Code,
		EventTime:        out.LastEventTime,
		NeedsAttention:   out.NeedsAttention,
		CustomerNotified: sh.CustomerNotified,
		IsTest:           sh.IsTest || ev.Test,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", sh.ID))
	// Best effort: the update is committed, a lost notification must not
	// turn into a carrier redelivery storm.
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("publish shipment.updated", "shipment_id", sh.ID, "error", err.Error())
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("shipment:%d:current", id)
}
