package webhooks

import (
	"testing"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNormalize_TrackUpdated(t *testing.T) {
	body := []byte(`{
		"event": "track_updated",
		"test": true,
		"data": {
			"tracking_number": "1Z999",
			"carrier": "ups",
			"servicelevel": {"name": "Ground", "token": "ups_ground"},
			"transaction": "txn_1",
			"eta": "2024-01-05T00:00:00Z",
			"tracking_status": {
				"status": "IN_TRANSIT",
				"substatus": {"code": "package_accepted", "text": "Package accepted", "action_required": false},
				"location": {"city": "Louisville", "state": "KY", "country": "US"},
				"datetime": "2024-01-01T12:30:00Z"
			},
			"address_to": {"name": "Jo", "city": "Denver"}
		}
	}`)

	ev, err := Normalize(body, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, models.EventTrackUpdated, ev.Event)
	require.True(t, ev.Test)
	require.True(t, ev.IsTracking())
	require.Equal(t, "1Z999", ev.TrackingNumber)
	require.Equal(t, "txn_1", ev.TransactionID)
	require.Equal(t, "ups", ev.Carrier)
	require.Equal(t, "Ground", ev.ServiceLevel.Name)
	require.Equal(t, models.CarrierStatusInTransit, ev.Status.Status)
	require.Equal(t, "package_accepted", ev.Status.Substatus.Code)
	require.Equal(t, "Louisville", ev.Status.Location.City)
	require.Equal(t, time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC), ev.Status.EventTime)
	require.NotNil(t, ev.ETA)
	require.Equal(t, "Denver", ev.AddressTo.City)
	require.NotEmpty(t, ev.Raw)
}

func TestNormalize_MissingDatetimeDefaultsToReceipt(t *testing.T) {
	received := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
	body := []byte(`{"event":"track_updated","data":{"tracking_number":"N1","tracking_status":{"status":"DELIVERED"}}}`)

	ev, err := Normalize(body, received)
	require.NoError(t, err)
	require.Equal(t, received, ev.Status.EventTime)
}

func TestNormalize_MissingTrackingNumberRejected(t *testing.T) {
	body := []byte(`{"event":"track_updated","data":{"tracking_status":{"status":"DELIVERED"}}}`)

	_, err := Normalize(body, time.Now().UTC())
	require.ErrorIs(t, err, ErrMissingTrackingNumber)
}

func TestNormalize_UnknownEventAccepted(t *testing.T) {
	body := []byte(`{"event":"some_future_event","data":{}}`)

	ev, err := Normalize(body, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, "some_future_event", ev.Event)
	require.False(t, ev.IsTracking())
}

func TestNormalize_TransactionEventUsesObjectID(t *testing.T) {
	body := []byte(`{"event":"transaction_created","data":{"object_id":"txn_9"}}`)

	ev, err := Normalize(body, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, "txn_9", ev.TransactionID)
	require.False(t, ev.IsTracking())
}

func TestNormalize_MalformedJSON(t *testing.T) {
	_, err := Normalize([]byte(`{not json`), time.Now().UTC())
	require.ErrorIs(t, err, ErrMalformedPayload)
}
