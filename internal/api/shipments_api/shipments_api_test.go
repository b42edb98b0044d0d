package shipments_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ShipSync/internal/integrations/shippo/fake"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/shipments"
	"github.com/BearBump/ShipSync/internal/services/subscriptions"
	"github.com/BearBump/ShipSync/internal/storage/pgshipment"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type repo struct {
	shipment *models.Shipment
	history  []*models.HistoryEntry
	events   []*models.WebhookEvent

	applied []pgshipment.ShipmentUpdate
	created []models.ShipmentStub
}

func (r *repo) FindByTrackingNumber(ctx context.Context, companyID, trackingNumber string) (*models.Shipment, error) {
	if r.shipment != nil && r.shipment.TrackingNumber == trackingNumber {
		cp := *r.shipment
		return &cp, nil
	}
	return nil, nil
}
func (r *repo) FindByTransactionID(ctx context.Context, companyID, transactionID string) (*models.Shipment, error) {
	return nil, nil
}
func (r *repo) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	if r.shipment != nil && r.shipment.ID == id {
		cp := *r.shipment
		return &cp, nil
	}
	return nil, nil
}
func (r *repo) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if r.shipment != nil && len(ids) == 1 && ids[0] == r.shipment.ID {
		cp := *r.shipment
		return []*models.Shipment{&cp}, nil
	}
	return nil, nil
}
func (r *repo) CreateMinimal(ctx context.Context, stub models.ShipmentStub) (*models.Shipment, error) {
	r.created = append(r.created, stub)
	sh := &models.Shipment{ID: 99, CompanyID: stub.CompanyID, TrackingNumber: stub.TrackingNumber,
		InternalStatus: models.InternalStatusInTransit, Version: 1}
	r.shipment = sh
	cp := *sh
	return &cp, nil
}
func (r *repo) CreateFromPurchase(ctx context.Context, pc models.PurchaseContext) (*models.Shipment, error) {
	return &models.Shipment{ID: 100, CompanyID: pc.CompanyID, InternalStatus: models.InternalStatusLabelPurchased}, nil
}
func (r *repo) ApplyEventAndSave(ctx context.Context, upd pgshipment.ShipmentUpdate) error {
	r.applied = append(r.applied, upd)
	if r.shipment != nil && r.shipment.ID == upd.ShipmentID {
		r.shipment.Version++
		r.shipment.InternalStatus = upd.InternalStatus
		r.shipment.NeedsAttention = upd.NeedsAttention
	}
	return nil
}
func (r *repo) QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error) {
	if r.shipment != nil && r.shipment.NeedsAttention {
		return []*models.Shipment{r.shipment}, nil
	}
	return nil, nil
}
func (r *repo) RecentShipments(ctx context.Context, companyID string, limit int) ([]*models.Shipment, error) {
	if r.shipment != nil {
		return []*models.Shipment{r.shipment}, nil
	}
	return nil, nil
}
func (r *repo) ListTrackingHistory(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	return r.history, nil
}
func (r *repo) ListWebhookEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.WebhookEvent, error) {
	return r.events, nil
}

func newServer(t *testing.T, r *repo, legacy bool) *httptest.Server {
	t.Helper()
	svc := shipments.New(r, nil, 0)
	subs := subscriptions.New(subsRepo{}, fake.New(), "https://sync.example.com")
	api := New(svc, subs, legacy)

	router := chi.NewRouter()
	api.Routes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type subsRepo struct{}

func (subsRepo) GetSubscription(ctx context.Context, companyID string) (*models.WebhookSubscription, error) {
	return nil, nil
}
func (subsRepo) SaveSubscription(ctx context.Context, sub models.WebhookSubscription) error {
	return nil
}
func (subsRepo) DeleteSubscription(ctx context.Context, companyID string) error { return nil }
func (subsRepo) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	return nil, nil
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_Webhook_ackContract(t *testing.T) {
	r := &repo{}
	srv := newServer(t, r, false)

	resp := postJSON(t, srv.URL+"/webhook/co1", map[string]any{
		"event": "track_updated",
		"data": map[string]any{
			"tracking_number": "1Z999",
			"carrier":         "ups",
			"tracking_status": map[string]any{"status": "IN_TRANSIT", "datetime": "2024-02-01T10:00:00Z"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	require.Equal(t, true, out["received"])
	require.Equal(t, "track_updated", out["event"])
	require.Equal(t, "co1", out["companyId"])
	require.Len(t, r.created, 1)
	require.Len(t, r.applied, 1)
}

func TestAPI_Webhook_unknownEventStillAcked(t *testing.T) {
	srv := newServer(t, &repo{}, false)
	resp := postJSON(t, srv.URL+"/webhook/co1", map[string]any{"event": "carrier_invented_this"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, decodeBody(t, resp)["received"])
}

func TestAPI_Webhook_malformedIs500(t *testing.T) {
	srv := newServer(t, &repo{}, false)
	resp, err := http.Post(srv.URL+"/webhook/co1", "application/json", bytes.NewReader([]byte("{oops")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_LegacyWebhook_gatedByFlag(t *testing.T) {
	srv := newServer(t, &repo{}, false)
	resp := postJSON(t, srv.URL+"/webhook", map[string]any{"event": "track_updated"})
	defer resp.Body.Close()
	require.NotEqual(t, http.StatusOK, resp.StatusCode)

	seed := &models.Shipment{ID: 5, CompanyID: "co1", TrackingNumber: "1Z999",
		InternalStatus: models.InternalStatusInTransit, Version: 1}
	srv = newServer(t, &repo{shipment: seed}, true)
	resp = postJSON(t, srv.URL+"/webhook", map[string]any{
		"event": "track_updated",
		"data": map[string]any{
			"tracking_number": "1Z999",
			"tracking_status": map[string]any{"status": "DELIVERED", "datetime": "2024-02-03T10:00:00Z"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	require.Equal(t, true, out["received"])
	_, hasCompany := out["companyId"]
	require.False(t, hasCompany)
}

func TestAPI_WebhookHealth(t *testing.T) {
	srv := newServer(t, &repo{}, false)
	resp, err := http.Get(srv.URL + "/webhook/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", decodeBody(t, resp)["status"])
}

func TestAPI_ShipmentQueries(t *testing.T) {
	now := time.Now().UTC()
	r := &repo{
		shipment: &models.Shipment{ID: 5, CompanyID: "co1", TrackingNumber: "1Z999",
			InternalStatus: models.InternalStatusInTransit, NeedsAttention: true, Version: 1},
		history: []*models.HistoryEntry{{ID: 1, ShipmentID: 5,
			TrackingStatus: models.TrackingStatus{Status: "IN_TRANSIT", EventTime: now}}},
		events: []*models.WebhookEvent{{ID: 1, ShipmentID: 5, Event: "track_updated", ReceivedAt: now}},
	}
	srv := newServer(t, r, false)

	resp, err := http.Get(srv.URL + "/shipments/?companyId=co1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeBody(t, resp)["shipments"], 1)

	resp, err = http.Get(srv.URL + "/shipments/5")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/shipments/404")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/shipments/5/history")
	require.NoError(t, err)
	require.Len(t, decodeBody(t, resp)["history"], 1)

	resp, err = http.Get(srv.URL + "/shipments/5/events")
	require.NoError(t, err)
	require.Len(t, decodeBody(t, resp)["events"], 1)

	resp, err = http.Get(srv.URL + "/shipments/attention?companyId=co1")
	require.NoError(t, err)
	require.Len(t, decodeBody(t, resp)["shipments"], 1)

	resp, err = http.Get(srv.URL + "/shipments/attention")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_ManualUpdate(t *testing.T) {
	r := &repo{shipment: &models.Shipment{ID: 5, CompanyID: "co1",
		InternalStatus: models.InternalStatusDelivered, NeedsAttention: true, Version: 1}}
	srv := newServer(t, r, false)

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/shipments/5",
		bytes.NewReader([]byte(`{"internalStatus":"IN_TRANSIT","needsAttention":false,"userId":"ops-1"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Equal(t, models.InternalStatusInTransit, r.shipment.InternalStatus)
	require.False(t, r.shipment.NeedsAttention)

	req, err = http.NewRequest(http.MethodPatch, srv.URL+"/shipments/5",
		bytes.NewReader([]byte(`{"internalStatus":"NOT_A_STATUS"}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_CreateFromPurchase(t *testing.T) {
	srv := newServer(t, &repo{}, false)

	resp := postJSON(t, srv.URL+"/shipments/", models.PurchaseContext{CompanyID: "co1", TrackingNumber: "1Z999"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/shipments/", models.PurchaseContext{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAPI_Subscriptions(t *testing.T) {
	srv := newServer(t, &repo{}, false)

	resp := postJSON(t, srv.URL+"/companies/co1/subscription/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	require.Equal(t, true, out["success"])
	require.NotEmpty(t, out["webhookId"])

	resp, err := http.Get(srv.URL + "/companies/co1/subscription/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, decodeBody(t, resp)["registered"])
}
