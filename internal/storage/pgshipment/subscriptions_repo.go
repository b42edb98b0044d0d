package pgshipment

import (
	"context"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const subscriptionColumns = `
 company_id, webhook_object_id, url, active, is_test, last_error, created_at, updated_at
`

// GetSubscription returns the tenant's provider registration, nil when the
// tenant was never registered.
func (s *Storage) GetSubscription(ctx context.Context, companyID string) (*models.WebhookSubscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT`+subscriptionColumns+`FROM webhook_subscriptions WHERE company_id = $1`, companyID)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select webhook subscription")
	}
	return sub, nil
}

// SaveSubscription upserts the tenant's registration state, including a
// failed attempt (empty webhook id, last_error set).
func (s *Storage) SaveSubscription(ctx context.Context, sub models.WebhookSubscription) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO webhook_subscriptions (company_id, webhook_object_id, url, active, is_test, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())
ON CONFLICT (company_id) DO UPDATE SET
  webhook_object_id = EXCLUDED.webhook_object_id,
  url = EXCLUDED.url,
  active = EXCLUDED.active,
  is_test = EXCLUDED.is_test,
  last_error = EXCLUDED.last_error,
  updated_at = now()`,
		sub.CompanyID, sub.WebhookObjectID, sub.URL, sub.Active, sub.IsTest, sub.LastError)
	return errors.Wrap(err, "upsert webhook subscription")
}

func (s *Storage) DeleteSubscription(ctx context.Context, companyID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE company_id = $1`, companyID)
	return errors.Wrap(err, "delete webhook subscription")
}

// ListSubscriptions returns every registration, for the bulk re-register
// sweep on deploys that change the public webhook URL.
func (s *Storage) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	rows, err := s.db.Query(ctx, `SELECT`+subscriptionColumns+`FROM webhook_subscriptions ORDER BY company_id`)
	if err != nil {
		return nil, errors.Wrap(err, "select webhook subscriptions")
	}
	defer rows.Close()

	var out []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan webhook subscription")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubscription(row rowScanner) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := row.Scan(
		&sub.CompanyID, &sub.WebhookObjectID, &sub.URL, &sub.Active,
		&sub.IsTest, &sub.LastError, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sub, nil
}
