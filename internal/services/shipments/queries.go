package shipments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/storage/pgshipment"
	"github.com/pkg/errors"
)

// GetShipmentsByIDs serves dashboard reads through the best-effort cache:
// the cache holds the current snapshot as JSON, misses fall through to the
// store and are backfilled.
func (s *Service) GetShipmentsByIDs(ctx context.Context, ids []uint64) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.Shipment, len(ids))

	if s.cache != nil && s.currentTTL > 0 {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var sh models.Shipment
			if json.Unmarshal(b, &sh) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &sh
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetShipmentsByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, sh := range fromDB {
			got[sh.ID] = sh
			if s.cache != nil && s.currentTTL > 0 {
				b, _ := json.Marshal(sh)
				_ = s.cache.Set(ctx, currentKey(sh.ID), b, s.currentTTL)
			}
		}
	}

	// Same order as ids, missing rows skipped.
	out := make([]*models.Shipment, 0, len(ids))
	for _, id := range ids {
		if sh, ok := got[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Service) RecentShipments(ctx context.Context, companyID string, limit int) ([]*models.Shipment, error) {
	if companyID == "" {
		return nil, errors.New("companyId is required")
	}
	return s.repo.RecentShipments(ctx, companyID, limit)
}

func (s *Service) ListTrackingHistory(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	return s.repo.ListTrackingHistory(ctx, shipmentID, limit, offset)
}

func (s *Service) ListWebhookEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.WebhookEvent, error) {
	return s.repo.ListWebhookEvents(ctx, shipmentID, limit, offset)
}

// NeedingAttention is the query-time attention sweep for one tenant.
func (s *Service) NeedingAttention(ctx context.Context, companyID string) ([]*models.Shipment, error) {
	return s.repo.QueryNeedingAttention(ctx, companyID, s.staleAfter, time.Now().UTC())
}

// CreateFromPurchase is the label-purchase workflow's entry point, the only
// non-webhook creator of shipment records.
func (s *Service) CreateFromPurchase(ctx context.Context, pc models.PurchaseContext) (*models.Shipment, error) {
	if pc.CompanyID == "" {
		return nil, errors.New("companyId is required")
	}
	if pc.TrackingNumber == "" && pc.TransactionID == "" {
		return nil, errors.New("trackingNumber or transactionId is required")
	}
	sh, err := s.repo.CreateFromPurchase(ctx, pc)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, sh.ID)
	return sh, nil
}

// ManualUpdateInput is an operator correction: the only path allowed to
// leave a terminal status or clear the attention flag.
type ManualUpdateInput struct {
	InternalStatus string
	NeedsAttention *bool
	UserID         string
}

func (s *Service) ManualUpdate(ctx context.Context, shipmentID uint64, in ManualUpdateInput) (*models.Shipment, error) {
	if shipmentID == 0 {
		return nil, errors.New("shipmentId is required")
	}
	if in.InternalStatus != "" && !validInternalStatus[in.InternalStatus] {
		return nil, errors.Errorf("invalid internal status %q", in.InternalStatus)
	}

	now := time.Now().UTC()
	payload, _ := json.Marshal(map[string]any{
		"internalStatus": in.InternalStatus,
		"needsAttention": in.NeedsAttention,
		"updatedBy":      in.UserID,
	})

	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		sh, err := s.repo.GetShipmentByID(ctx, shipmentID)
		if err != nil {
			lastErr = err
			continue
		}
		if sh == nil {
			return nil, errors.New("shipment not found")
		}

		upd := pgshipment.ShipmentUpdate{
			ShipmentID:       sh.ID,
			Version:          sh.Version,
			InternalStatus:   sh.InternalStatus,
			TrackingStatus:   sh.TrackingStatus,
			ETA:              sh.ETA,
			ShipDate:         sh.ShipDate,
			DeliveryDate:     sh.DeliveryDate,
			LastEventTime:    sh.LastEventTime,
			LastWebhookAt:    now,
			NeedsAttention:   sh.NeedsAttention,
			CustomerNotified: sh.CustomerNotified,
			Audit: &pgshipment.AuditEntry{
				Event:      models.EventManualUpdate,
				ReceivedAt: now,
				Payload:    payload,
			},
		}
		if in.InternalStatus != "" {
			upd.InternalStatus = in.InternalStatus
		}
		if in.NeedsAttention != nil {
			upd.NeedsAttention = *in.NeedsAttention
		}

		if err := s.repo.ApplyEventAndSave(ctx, upd); err != nil {
			lastErr = err
			continue
		}

		s.refreshCache(ctx, sh.ID)
		return s.repo.GetShipmentByID(ctx, shipmentID)
	}

	return nil, errors.Wrapf(lastErr, "manual update after %d attempts", s.retryAttempts)
}
