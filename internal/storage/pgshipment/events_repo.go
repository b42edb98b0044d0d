package pgshipment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrVersionConflict means another delivery updated the shipment between
// our read and our write. The caller reloads and retries.
var ErrVersionConflict = errors.New("shipment version conflict")

// ShipmentUpdate carries the full post-transition state for one shipment
// plus the history/audit rows produced by the event. The write is
// conditional on Version so concurrent deliveries for the same shipment
// serialize without an in-process lock.
type ShipmentUpdate struct {
	ShipmentID uint64
	Version    int64

	InternalStatus string
	TrackingStatus *models.TrackingStatus
	ETA            *time.Time
	ShipDate       *time.Time
	DeliveryDate   *time.Time
	LastEventTime  *time.Time
	LastWebhookAt  time.Time

	NeedsAttention   bool
	CustomerNotified bool

	// History entries are deduplicated by the unique index; replaying the
	// same carrier event only grows the audit trail below.
	History []models.TrackingStatus
	Audit   *AuditEntry
}

type AuditEntry struct {
	Event      string
	IsTest     bool
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// ApplyEventAndSave commits the state update, the timeline entries and the
// audit row in one transaction: either everything lands or nothing does.
func (s *Storage) ApplyEventAndSave(ctx context.Context, upd ShipmentUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE shipments
SET
  internal_status = $3,
  tracking_status = $4,
  eta = $5,
  ship_date = $6,
  delivery_date = $7,
  last_event_time = $8,
  last_webhook_at = $9,
  needs_attention = $10,
  customer_notified = $11,
  version = version + 1,
  updated_at = now()
WHERE id = $1 AND version = $2
`, upd.ShipmentID, upd.Version,
		upd.InternalStatus, upd.TrackingStatus, upd.ETA,
		upd.ShipDate, upd.DeliveryDate, upd.LastEventTime, upd.LastWebhookAt.UTC(),
		upd.NeedsAttention, upd.CustomerNotified)
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	for _, h := range upd.History {
		_, err := tx.Exec(ctx, `
INSERT INTO tracking_history (
  shipment_id, status, substatus_code, substatus_text, action_required, location, event_time, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (shipment_id, event_time, status, substatus_code) DO NOTHING
`, upd.ShipmentID, h.Status, h.Substatus.Code, h.Substatus.Text, h.Substatus.ActionRequired, h.Location, h.EventTime.UTC())
		if err != nil {
			return errors.Wrap(err, "insert history entry")
		}
	}

	if upd.Audit != nil {
		var payload any
		if len(upd.Audit.Payload) > 0 {
			var m any
			if json.Unmarshal(upd.Audit.Payload, &m) == nil {
				payload = m
			}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO webhook_events (shipment_id, company_id, event, is_test, received_at, payload)
SELECT $1, company_id, $2, $3, $4, $5 FROM shipments WHERE id = $1
`, upd.ShipmentID, upd.Audit.Event, upd.Audit.IsTest, upd.Audit.ReceivedAt.UTC(), payload)
		if err != nil {
			return errors.Wrap(err, "insert audit event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// ListTrackingHistory returns the display timeline, newest event first
// (ordered by event time, not arrival).
func (s *Storage) ListTrackingHistory(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, status, substatus_code, substatus_text, action_required, location, event_time, created_at
FROM tracking_history
WHERE shipment_id = $1
ORDER BY event_time DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(
			&h.ID, &h.ShipmentID, &h.Status, &h.Substatus.Code, &h.Substatus.Text,
			&h.Substatus.ActionRequired, &h.Location, &h.EventTime, &h.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		out = append(out, &h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListWebhookEvents returns the raw audit trail, newest arrival first.
func (s *Storage) ListWebhookEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.WebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, company_id, event, is_test, received_at, payload
FROM webhook_events
WHERE shipment_id = $1
ORDER BY received_at DESC, id DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select webhook events")
	}
	defer rows.Close()

	var out []*models.WebhookEvent
	for rows.Next() {
		var e models.WebhookEvent
		var payload any
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.CompanyID, &e.Event, &e.IsTest, &e.ReceivedAt, &payload); err != nil {
			return nil, errors.Wrap(err, "scan webhook event")
		}
		if payload != nil {
			b, _ := json.Marshal(payload)
			s := string(b)
			e.PayloadJSON = &s
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// QueryNeedingAttention is the attention sweep: flagged shipments, carrier
// action-required substatuses, in-flight shipments gone quiet for the stale
// window and shipments past their ETA. Read-only; an empty companyID scans
// all tenants (the worker's mode).
func (s *Storage) QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error) {
	if staleAfter <= 0 {
		staleAfter = 48 * time.Hour
	}
	staleBefore := now.UTC().Add(-staleAfter)

	q := `
SELECT` + shipmentColumns + `
FROM shipments
WHERE (
  needs_attention
  OR COALESCE((tracking_status -> 'substatus' ->> 'action_required')::boolean, FALSE)
  OR (internal_status = ANY($1) AND COALESCE(last_webhook_at, created_at) < $2)
  OR (eta IS NOT NULL AND eta < $3 AND NOT (internal_status = ANY($4)))
)`
	args := []any{
		[]string{models.InternalStatusShipped, models.InternalStatusInTransit, models.InternalStatusLabelPurchased},
		staleBefore,
		now.UTC(),
		[]string{models.InternalStatusDelivered, models.InternalStatusReturned},
	}
	if companyID != "" {
		q += ` AND company_id = $5`
		args = append(args, companyID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments needing attention")
	}
	defer rows.Close()

	return collectShipments(rows)
}

// MarkCustomerNotified flips the notified flag once; repeated calls are
// no-ops so the notifier stays idempotent under redelivery.
func (s *Storage) MarkCustomerNotified(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE shipments SET customer_notified = TRUE, updated_at = now() WHERE id = $1 AND NOT customer_notified`,
		shipmentID)
	return errors.Wrap(err, "mark customer notified")
}

func (s *Storage) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}
	rows, err := s.db.Query(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	return collectShipments(rows)
}
