// Package subscriptions keeps each tenant registered with the shipping
// provider so tracking webhooks reach the gateway at
// <base_url>/webhook/<companyID>.
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipSync/internal/integrations/shippo"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetSubscription(ctx context.Context, companyID string) (*models.WebhookSubscription, error)
	SaveSubscription(ctx context.Context, sub models.WebhookSubscription) error
	DeleteSubscription(ctx context.Context, companyID string) error
	ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo   Repository
	client shippo.Client

	baseURL string
	isTest  bool

	rl         RateLimiter
	ratePerMin int64
}

func New(repo Repository, client shippo.Client, baseURL string) *Service {
	return &Service{
		repo:    repo,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *Service) WithTestMode(isTest bool) *Service {
	s.isTest = isTest
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.ratePerMin = perMinute
	return s
}

// EnsureForTenant makes the tenant's registration current: an existing
// webhook pointing at the right URL is kept, anything else is replaced.
// Failures are recorded on the subscription row and returned.
func (s *Service) EnsureForTenant(ctx context.Context, companyID string) (*models.WebhookSubscription, error) {
	if companyID == "" {
		return nil, errors.New("companyId is required")
	}
	if s.baseURL == "" {
		return nil, errors.New("webhook base url is not configured")
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	url := s.webhookURL(companyID)

	existing, err := s.repo.GetSubscription(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.WebhookObjectID != "" {
		remote, err := s.client.GetWebhook(ctx, existing.WebhookObjectID)
		if err == nil && remote.URL == url && remote.Active {
			return existing, nil
		}
		if err != nil && !errors.Is(err, shippo.ErrWebhookNotFound) {
			return nil, errors.Wrap(err, "verify provider webhook")
		}
		slog.Info("provider webhook missing or outdated, re-registering",
			"company_id", companyID, "webhook_id", existing.WebhookObjectID)
	}

	created, err := s.client.CreateWebhook(ctx, shippo.Webhook{
		URL:    url,
		Event:  shippo.EventAll,
		Active: true,
		IsTest: s.isTest,
	})
	if err != nil {
		sub := models.WebhookSubscription{CompanyID: companyID, URL: url, LastError: err.Error()}
		if saveErr := s.repo.SaveSubscription(ctx, sub); saveErr != nil {
			slog.Error("record subscription failure", "company_id", companyID, "error", saveErr.Error())
		}
		return nil, errors.Wrap(err, "create provider webhook")
	}

	sub := models.WebhookSubscription{
		CompanyID:       companyID,
		WebhookObjectID: created.ObjectID,
		URL:             created.URL,
		Active:          created.Active,
		IsTest:          created.IsTest,
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	slog.Info("provider webhook registered", "company_id", companyID, "webhook_id", created.ObjectID)
	return &sub, nil
}

// RemoveForTenant deletes the registration on both sides. A missing
// provider-side webhook is fine.
func (s *Service) RemoveForTenant(ctx context.Context, companyID string) error {
	if companyID == "" {
		return errors.New("companyId is required")
	}

	sub, err := s.repo.GetSubscription(ctx, companyID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	if sub.WebhookObjectID != "" {
		if err := s.client.DeleteWebhook(ctx, sub.WebhookObjectID); err != nil {
			return errors.Wrap(err, "delete provider webhook")
		}
	}
	return s.repo.DeleteSubscription(ctx, companyID)
}

// Status reports the stored registration without touching the provider.
func (s *Service) Status(ctx context.Context, companyID string) (*models.WebhookSubscription, error) {
	if companyID == "" {
		return nil, errors.New("companyId is required")
	}
	return s.repo.GetSubscription(ctx, companyID)
}

// EnsureAll re-registers every known tenant, used after the public webhook
// URL changes. Per-tenant failures are logged and counted, not fatal.
func (s *Service) EnsureAll(ctx context.Context) (ok, failed int, err error) {
	subs, err := s.repo.ListSubscriptions(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, sub := range subs {
		if _, err := s.EnsureForTenant(ctx, sub.CompanyID); err != nil {
			failed++
			slog.Error("ensure subscription", "company_id", sub.CompanyID, "error", err.Error())
			continue
		}
		ok++
	}
	return ok, failed, nil
}

func (s *Service) webhookURL(companyID string) string {
	return fmt.Sprintf("%s/webhook/%s", s.baseURL, companyID)
}

func (s *Service) pace(ctx context.Context) error {
	if s.rl == nil || s.ratePerMin <= 0 {
		return nil
	}
	key := "rl:provider:" + time.Now().UTC().Format("200601021504")
	allowed, n, err := s.rl.Allow(ctx, key, s.ratePerMin, 70*time.Second)
	if err != nil {
		return errors.Wrap(err, "provider rate limit")
	}
	if !allowed {
		slog.Warn("provider rate limit reached, backing off", "count", n)
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}
