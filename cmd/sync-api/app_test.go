package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	shipmentsapi "github.com/BearBump/ShipSync/internal/api/shipments_api"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/shipments"
	"github.com/BearBump/ShipSync/internal/storage/pgshipment"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) FindByTrackingNumber(ctx context.Context, companyID, trackingNumber string) (*models.Shipment, error) {
	return nil, nil
}
func (r *fakeRepo) FindByTransactionID(ctx context.Context, companyID, transactionID string) (*models.Shipment, error) {
	return nil, nil
}
func (r *fakeRepo) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	return nil, nil
}
func (r *fakeRepo) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	return []*models.Shipment{}, nil
}
func (r *fakeRepo) CreateMinimal(ctx context.Context, stub models.ShipmentStub) (*models.Shipment, error) {
	return &models.Shipment{ID: 1, CompanyID: stub.CompanyID, TrackingNumber: stub.TrackingNumber,
		InternalStatus: models.InternalStatusInTransit, Version: 1}, nil
}
func (r *fakeRepo) CreateFromPurchase(ctx context.Context, pc models.PurchaseContext) (*models.Shipment, error) {
	return &models.Shipment{ID: 2, CompanyID: pc.CompanyID}, nil
}
func (r *fakeRepo) ApplyEventAndSave(ctx context.Context, upd pgshipment.ShipmentUpdate) error {
	return nil
}
func (r *fakeRepo) QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error) {
	return []*models.Shipment{}, nil
}
func (r *fakeRepo) RecentShipments(ctx context.Context, companyID string, limit int) ([]*models.Shipment, error) {
	return []*models.Shipment{}, nil
}
func (r *fakeRepo) ListTrackingHistory(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	return []*models.HistoryEntry{}, nil
}
func (r *fakeRepo) ListWebhookEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.WebhookEvent, error) {
	return []*models.WebhookEvent{}, nil
}

func TestRunSyncAPI_ServesGatewayAndSwagger(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := shipments.New(&fakeRepo{}, nil, 0)
	api := shipmentsapi.New(svc, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runSyncAPI(ctx, syncAPIOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
		}, api)
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for listen")
	}

	resp, err := http.Get("http://" + addr + "/webhook/health")
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post("http://"+addr+"/webhook/co1", "application/json",
		strings.NewReader(`{"event":"track_updated","data":{"tracking_number":"1Z1","tracking_status":{"status":"IN_TRANSIT","datetime":"2024-02-01T10:00:00Z"}}}`))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), `"swagger"`)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunSyncAPI_RequiresSwagger(t *testing.T) {
	err := runSyncAPI(context.Background(), syncAPIOpts{httpAddr: "127.0.0.1:0"}, nil)
	require.Error(t, err)
}
