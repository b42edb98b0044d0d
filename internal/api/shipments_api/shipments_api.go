// Package shipments_api is the HTTP surface: the carrier webhook gateway
// plus the dashboard's shipment queries and the tenant subscription
// endpoints.
package shipments_api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/shipments"
	"github.com/BearBump/ShipSync/internal/services/subscriptions"
	"github.com/go-chi/chi/v5"
)

type ShipmentsAPI struct {
	svc  *shipments.Service
	subs *subscriptions.Service

	legacyWebhook bool
}

func New(svc *shipments.Service, subs *subscriptions.Service, legacyWebhook bool) *ShipmentsAPI {
	return &ShipmentsAPI{svc: svc, subs: subs, legacyWebhook: legacyWebhook}
}

func (a *ShipmentsAPI) Routes(r chi.Router) {
	r.Post("/webhook/{companyID}", a.handleWebhook)
	r.Get("/webhook/health", a.handleWebhookHealth)
	if a.legacyWebhook {
		// Pre-multi-tenant intake URL; resolves by tracking number alone.
		r.Post("/webhook", a.handleWebhook)
	}

	r.Route("/shipments", func(r chi.Router) {
		r.Get("/", a.handleRecentShipments)
		r.Post("/", a.handleCreateFromPurchase)
		r.Get("/attention", a.handleNeedingAttention)
		r.Get("/{shipmentID}", a.handleGetShipment)
		r.Patch("/{shipmentID}", a.handleManualUpdate)
		r.Get("/{shipmentID}/history", a.handleTrackingHistory)
		r.Get("/{shipmentID}/events", a.handleWebhookEvents)
	})

	r.Route("/companies/{companyID}/subscription", func(r chi.Router) {
		r.Post("/", a.handleEnsureSubscription)
		r.Get("/", a.handleSubscriptionStatus)
		r.Delete("/", a.handleRemoveSubscription)
	})
}

// handleWebhook acknowledges everything the provider can retry into
// success: once the body parses, the answer is 200 no matter what the event
// meant. A non-2xx here causes a redelivery storm on the provider side.
func (a *ShipmentsAPI) handleWebhook(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read body")
		return
	}

	rcpt, err := a.svc.ProcessWebhook(r.Context(), companyID, body)
	if err != nil {
		slog.Error("process webhook", "company_id", companyID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}

	out := map[string]any{"received": true, "event": rcpt.Event}
	if rcpt.CompanyID != "" {
		out["companyId"] = rcpt.CompanyID
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *ShipmentsAPI) handleWebhookHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "service": "shipment webhook gateway"})
}

func (a *ShipmentsAPI) handleRecentShipments(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("companyId")
	limit := queryInt(r, "limit", 50)

	ts, err := a.svc.RecentShipments(r.Context(), companyID, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipments": ts})
}

func (a *ShipmentsAPI) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ts, err := a.svc.GetShipmentsByIDs(r.Context(), []uint64{id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(ts) == 0 {
		writeError(w, http.StatusNotFound, "shipment not found")
		return
	}
	writeJSON(w, http.StatusOK, ts[0])
}

func (a *ShipmentsAPI) handleTrackingHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	evs, err := a.svc.ListTrackingHistory(r.Context(), id, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": evs})
}

func (a *ShipmentsAPI) handleWebhookEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	evs, err := a.svc.ListWebhookEvents(r.Context(), id, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (a *ShipmentsAPI) handleNeedingAttention(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "companyId is required")
		return
	}
	ts, err := a.svc.NeedingAttention(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shipments": ts})
}

func (a *ShipmentsAPI) handleCreateFromPurchase(w http.ResponseWriter, r *http.Request) {
	var pc models.PurchaseContext
	if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sh, err := a.svc.CreateFromPurchase(r.Context(), pc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (a *ShipmentsAPI) handleManualUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var in struct {
		InternalStatus string `json:"internalStatus"`
		NeedsAttention *bool  `json:"needsAttention"`
		UserID         string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sh, err := a.svc.ManualUpdate(r.Context(), id, shipments.ManualUpdateInput{
		InternalStatus: in.InternalStatus,
		NeedsAttention: in.NeedsAttention,
		UserID:         in.UserID,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (a *ShipmentsAPI) handleEnsureSubscription(w http.ResponseWriter, r *http.Request) {
	if a.subs == nil {
		writeError(w, http.StatusNotImplemented, "subscriptions not configured")
		return
	}
	sub, err := a.subs.EnsureForTenant(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"webhookId":  sub.WebhookObjectID,
		"webhookUrl": sub.URL,
	})
}

func (a *ShipmentsAPI) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	if a.subs == nil {
		writeError(w, http.StatusNotImplemented, "subscriptions not configured")
		return
	}
	sub, err := a.subs.Status(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sub == nil {
		writeJSON(w, http.StatusOK, map[string]any{"registered": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": sub.WebhookObjectID != "",
		"webhookId":  sub.WebhookObjectID,
		"webhookUrl": sub.URL,
		"active":     sub.Active,
		"lastError":  sub.LastError,
	})
}

func (a *ShipmentsAPI) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	if a.subs == nil {
		writeError(w, http.StatusNotImplemented, "subscriptions not configured")
		return
	}
	if err := a.subs.RemoveForTenant(r.Context(), chi.URLParam(r, "companyID")); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "shipmentID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid shipment id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
