package pgshipment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  company_id TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  transaction_id TEXT NOT NULL DEFAULT '',
  carrier TEXT NOT NULL DEFAULT '',
  service_level JSONB NULL,
  internal_status TEXT NOT NULL,
  tracking_status JSONB NULL,
  eta TIMESTAMPTZ NULL,
  ship_date TIMESTAMPTZ NULL,
  delivery_date TIMESTAMPTZ NULL,
  order_id TEXT NOT NULL DEFAULT '',
  invoice_number TEXT NOT NULL DEFAULT '',
  label_url TEXT NOT NULL DEFAULT '',
  address_from JSONB NULL,
  address_to JSONB NULL,
  packages JSONB NOT NULL DEFAULT '[]'::jsonb,
  cost JSONB NULL,
  retail_cost JSONB NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  last_event_time TIMESTAMPTZ NULL,
  last_webhook_at TIMESTAMPTZ NULL,
  needs_attention BOOLEAN NOT NULL DEFAULT FALSE,
  is_test BOOLEAN NOT NULL DEFAULT FALSE,
  customer_notified BOOLEAN NOT NULL DEFAULT FALSE,
  created_from_webhook BOOLEAN NOT NULL DEFAULT FALSE,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Tracking numbers are unique per tenant, not globally: carriers
		// recycle numbers across customers over time. The unique index also
		// gives CreateMinimal its insert-or-fetch upsert target.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_company_tracking
ON shipments(company_id, tracking_number) WHERE tracking_number <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_company_transaction
ON shipments(company_id, transaction_id) WHERE transaction_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_company_created ON shipments(company_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_internal_status ON shipments(internal_status)`,
		`
CREATE TABLE IF NOT EXISTS tracking_history (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  substatus_code TEXT NOT NULL DEFAULT '',
  substatus_text TEXT NOT NULL DEFAULT '',
  action_required BOOLEAN NOT NULL DEFAULT FALSE,
  location JSONB NULL,
  event_time TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_history_shipment_event_time
ON tracking_history(shipment_id, event_time DESC)`,
		// Redeliveries of the same carrier event must not grow the timeline.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_history_dedup
ON tracking_history(shipment_id, event_time, status, substatus_code)`,
		`
CREATE TABLE IF NOT EXISTS webhook_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  company_id TEXT NOT NULL DEFAULT '',
  event TEXT NOT NULL,
  is_test BOOLEAN NOT NULL DEFAULT FALSE,
  received_at TIMESTAMPTZ NOT NULL,
  payload JSONB NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_shipment_received
ON webhook_events(shipment_id, received_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS webhook_subscriptions (
  company_id TEXT PRIMARY KEY,
  webhook_object_id TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  active BOOLEAN NOT NULL DEFAULT FALSE,
  is_test BOOLEAN NOT NULL DEFAULT FALSE,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
