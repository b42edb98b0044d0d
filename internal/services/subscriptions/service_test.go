package subscriptions

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/ShipSync/internal/integrations/shippo"
	"github.com/BearBump/ShipSync/internal/integrations/shippo/fake"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	subs    map[string]models.WebhookSubscription
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: map[string]models.WebhookSubscription{}}
}

func (r *fakeRepo) GetSubscription(ctx context.Context, companyID string) (*models.WebhookSubscription, error) {
	if sub, ok := r.subs[companyID]; ok {
		cp := sub
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeRepo) SaveSubscription(ctx context.Context, sub models.WebhookSubscription) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.subs[sub.CompanyID] = sub
	return nil
}

func (r *fakeRepo) DeleteSubscription(ctx context.Context, companyID string) error {
	delete(r.subs, companyID)
	return nil
}

func (r *fakeRepo) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	out := []*models.WebhookSubscription{}
	for _, sub := range r.subs {
		cp := sub
		out = append(out, &cp)
	}
	return out, nil
}

type failingClient struct{}

func (failingClient) CreateWebhook(ctx context.Context, w shippo.Webhook) (*shippo.Webhook, error) {
	return nil, errors.New("provider http 500")
}
func (failingClient) GetWebhook(ctx context.Context, objectID string) (*shippo.Webhook, error) {
	return nil, errors.New("provider http 500")
}
func (failingClient) DeleteWebhook(ctx context.Context, objectID string) error {
	return errors.New("provider http 500")
}

func TestService_EnsureForTenant_registers(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, fake.New(), "https://sync.example.com/")

	sub, err := s.EnsureForTenant(context.Background(), "co1")
	require.NoError(t, err)
	require.Equal(t, "https://sync.example.com/webhook/co1", sub.URL)
	require.NotEmpty(t, sub.WebhookObjectID)
	require.True(t, sub.Active)

	// second call verifies the existing registration without replacing it
	again, err := s.EnsureForTenant(context.Background(), "co1")
	require.NoError(t, err)
	require.Equal(t, sub.WebhookObjectID, again.WebhookObjectID)
}

func TestService_EnsureForTenant_reRegistersWhenProviderForgot(t *testing.T) {
	repo := newFakeRepo()
	client := fake.New()
	s := New(repo, client, "https://sync.example.com")

	sub, err := s.EnsureForTenant(context.Background(), "co1")
	require.NoError(t, err)

	require.NoError(t, client.DeleteWebhook(context.Background(), sub.WebhookObjectID))

	again, err := s.EnsureForTenant(context.Background(), "co1")
	require.NoError(t, err)
	require.NotEmpty(t, again.WebhookObjectID)
	_, err = client.GetWebhook(context.Background(), again.WebhookObjectID)
	require.NoError(t, err)
}

func TestService_EnsureForTenant_recordsFailure(t *testing.T) {
	repo := newFakeRepo()
	s := New(repo, failingClient{}, "https://sync.example.com")

	_, err := s.EnsureForTenant(context.Background(), "co1")
	require.Error(t, err)

	stored := repo.subs["co1"]
	require.Empty(t, stored.WebhookObjectID)
	require.Contains(t, stored.LastError, "provider http 500")
}

func TestService_EnsureForTenant_validate(t *testing.T) {
	s := New(newFakeRepo(), fake.New(), "https://sync.example.com")
	_, err := s.EnsureForTenant(context.Background(), "")
	require.Error(t, err)

	s = New(newFakeRepo(), fake.New(), "")
	_, err = s.EnsureForTenant(context.Background(), "co1")
	require.Error(t, err)
}

func TestService_RemoveForTenant(t *testing.T) {
	repo := newFakeRepo()
	client := fake.New()
	s := New(repo, client, "https://sync.example.com")

	sub, err := s.EnsureForTenant(context.Background(), "co1")
	require.NoError(t, err)

	require.NoError(t, s.RemoveForTenant(context.Background(), "co1"))
	require.Empty(t, repo.subs)
	_, err = client.GetWebhook(context.Background(), sub.WebhookObjectID)
	require.ErrorIs(t, err, shippo.ErrWebhookNotFound)

	// already gone: no-op
	require.NoError(t, s.RemoveForTenant(context.Background(), "co1"))
}

func TestService_EnsureAll(t *testing.T) {
	repo := newFakeRepo()
	client := fake.New()
	s := New(repo, client, "https://sync.example.com")

	for _, id := range []string{"co1", "co2", "co3"} {
		_, err := s.EnsureForTenant(context.Background(), id)
		require.NoError(t, err)
	}

	ok, failed, err := s.EnsureAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, ok)
	require.Zero(t, failed)
}
