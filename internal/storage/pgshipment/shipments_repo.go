package pgshipment

import (
	"context"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, company_id, tracking_number, transaction_id, carrier, service_level,
  internal_status, tracking_status, eta, ship_date, delivery_date,
  order_id, invoice_number, label_url,
  address_from, address_to, packages, cost, retail_cost, metadata,
  last_event_time, last_webhook_at,
  needs_attention, is_test, customer_notified, created_from_webhook,
  version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*models.Shipment, error) {
	var sh models.Shipment
	if err := row.Scan(
		&sh.ID, &sh.CompanyID, &sh.TrackingNumber, &sh.TransactionID, &sh.Carrier, &sh.ServiceLevel,
		&sh.InternalStatus, &sh.TrackingStatus, &sh.ETA, &sh.ShipDate, &sh.DeliveryDate,
		&sh.OrderID, &sh.InvoiceNumber, &sh.LabelURL,
		&sh.AddressFrom, &sh.AddressTo, &sh.Packages, &sh.Cost, &sh.RetailCost, &sh.Metadata,
		&sh.LastEventTime, &sh.LastWebhookAt,
		&sh.NeedsAttention, &sh.IsTest, &sh.CustomerNotified, &sh.CreatedFromWebhook,
		&sh.Version, &sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sh, nil
}

// FindByTrackingNumber looks up the owning shipment for a tracking number.
// An empty companyID searches across all tenants (legacy webhook mode).
func (s *Storage) FindByTrackingNumber(ctx context.Context, companyID, trackingNumber string) (*models.Shipment, error) {
	if trackingNumber == "" {
		return nil, nil
	}
	q := `SELECT` + shipmentColumns + ` FROM shipments WHERE tracking_number = $1`
	args := []any{trackingNumber}
	if companyID != "" {
		q += ` AND company_id = $2`
		args = append(args, companyID)
	}
	q += ` LIMIT 1`

	sh, err := scanShipment(s.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking number")
	}
	return sh, nil
}

// FindByTransactionID is the fallback lookup for events that carry a
// label-purchase transaction id but whose tracking number we have not seen.
func (s *Storage) FindByTransactionID(ctx context.Context, companyID, transactionID string) (*models.Shipment, error) {
	if transactionID == "" {
		return nil, nil
	}
	q := `SELECT` + shipmentColumns + ` FROM shipments WHERE transaction_id = $1`
	args := []any{transactionID}
	if companyID != "" {
		q += ` AND company_id = $2`
		args = append(args, companyID)
	}
	q += ` LIMIT 1`

	sh, err := scanShipment(s.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by transaction id")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by id")
	}
	return sh, nil
}

// CreateMinimal inserts a first-sight stub for a webhook event with no
// owning shipment. Concurrent first-sight deliveries race on creation, so
// this is an atomic insert-or-fetch on the tenant+tracking unique index:
// both callers end up with the same row.
func (s *Storage) CreateMinimal(ctx context.Context, stub models.ShipmentStub) (*models.Shipment, error) {
	if stub.CompanyID == "" {
		return nil, errors.New("companyId is required for webhook-created shipments")
	}
	if stub.TrackingNumber == "" {
		return nil, errors.New("trackingNumber is required")
	}
	now := time.Now().UTC()

	sh, err := scanShipment(s.db.QueryRow(ctx, `
INSERT INTO shipments (
  company_id, tracking_number, transaction_id, carrier, service_level,
  internal_status, eta, address_from, address_to, is_test,
  created_from_webhook, metadata, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE,$11,$12,$12)
ON CONFLICT (company_id, tracking_number) WHERE tracking_number <> ''
DO UPDATE SET updated_at = shipments.updated_at
RETURNING`+shipmentColumns,
		stub.CompanyID, stub.TrackingNumber, stub.TransactionID, stub.Carrier, stub.ServiceLevel,
		models.InternalStatusInTransit, stub.ETA, stub.AddressFrom, stub.AddressTo, stub.IsTest,
		map[string]any{"createdFromWebhook": true, "webhookTimestamp": now.Format(time.RFC3339)}, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment stub")
	}
	return sh, nil
}

// CreateFromPurchase inserts the fully populated record the label-purchase
// workflow hands over.
func (s *Storage) CreateFromPurchase(ctx context.Context, pc models.PurchaseContext) (*models.Shipment, error) {
	if pc.CompanyID == "" {
		return nil, errors.New("companyId is required")
	}
	now := time.Now().UTC()

	meta := map[string]any{}
	for k, v := range pc.Metadata {
		meta[k] = v
	}

	sh, err := scanShipment(s.db.QueryRow(ctx, `
INSERT INTO shipments (
  company_id, tracking_number, transaction_id, carrier, service_level,
  internal_status, ship_date, order_id, invoice_number, label_url,
  address_from, address_to, packages, cost, retail_cost, metadata,
  is_test, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
ON CONFLICT (company_id, tracking_number) WHERE tracking_number <> ''
DO UPDATE SET
  transaction_id = EXCLUDED.transaction_id,
  internal_status = EXCLUDED.internal_status,
  order_id = EXCLUDED.order_id,
  invoice_number = EXCLUDED.invoice_number,
  label_url = EXCLUDED.label_url,
  created_from_webhook = FALSE,
  updated_at = EXCLUDED.updated_at
RETURNING`+shipmentColumns,
		pc.CompanyID, pc.TrackingNumber, pc.TransactionID, pc.Carrier, pc.ServiceLevel,
		models.InternalStatusLabelPurchased, now, pc.OrderID, pc.InvoiceNumber, pc.LabelURL,
		pc.AddressFrom, pc.AddressTo, packagesOrEmpty(pc.Packages), pc.Cost, pc.RetailCost, meta,
		pc.IsTest, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment from purchase")
	}
	return sh, nil
}

func packagesOrEmpty(ps []models.Package) []models.Package {
	if ps == nil {
		return []models.Package{}
	}
	return ps
}

// RecentShipments returns a tenant's newest shipments for the dashboard.
func (s *Storage) RecentShipments(ctx context.Context, companyID string, limit int) ([]*models.Shipment, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.Query(ctx,
		`SELECT`+shipmentColumns+` FROM shipments WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`,
		companyID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select recent shipments")
	}
	defer rows.Close()

	return collectShipments(rows)
}

func collectShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	out := []*models.Shipment{}
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
