package fake

import (
	"context"
	"testing"

	"github.com/BearBump/ShipSync/internal/integrations/shippo"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_roundTrip(t *testing.T) {
	f := New()

	created, err := f.CreateWebhook(context.Background(), shippo.Webhook{
		URL: "https://sync.example.com/webhook/co1", Event: shippo.EventAll,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ObjectID)
	require.True(t, created.Active)

	got, err := f.GetWebhook(context.Background(), created.ObjectID)
	require.NoError(t, err)
	require.Equal(t, created.URL, got.URL)

	require.NoError(t, f.DeleteWebhook(context.Background(), created.ObjectID))
	_, err = f.GetWebhook(context.Background(), created.ObjectID)
	require.ErrorIs(t, err, shippo.ErrWebhookNotFound)

	// same URL, same id
	again, err := f.CreateWebhook(context.Background(), shippo.Webhook{URL: created.URL})
	require.NoError(t, err)
	require.Equal(t, created.ObjectID, again.ObjectID)
}
