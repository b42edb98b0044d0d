// Package attention runs the background sweep over the shipment store and
// raises alerts for shipments that need a human: flagged by an event,
// carrier action required, gone quiet mid-flight or past their ETA.
package attention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/pkg/errors"
)

// Alert reasons, most specific first; a shipment matching several rules is
// reported under the first one that fires.
const (
	ReasonFlagged        = "flagged"
	ReasonActionRequired = "action_required"
	ReasonPastETA        = "past_eta"
	ReasonStale          = "stale"
)

type Repository interface {
	QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Scanner struct {
	repo     Repository
	producer Producer
	rl       RateLimiter

	topic string

	sweepInterval time.Duration
	staleAfter    time.Duration
	alertWindow   time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalScanned        atomic.Int64
	totalAlerted        atomic.Int64
	totalSuppressed     atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, topic string) *Scanner {
	return &Scanner{
		repo: repo, producer: producer, rl: rl, topic: topic,
		sweepInterval:     5 * time.Minute,
		staleAfter:        48 * time.Hour,
		alertWindow:       6 * time.Hour,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scanner) WithSettings(sweepInterval, staleAfter, alertWindow time.Duration) *Scanner {
	if sweepInterval > 0 {
		s.sweepInterval = sweepInterval
	}
	if staleAfter > 0 {
		s.staleAfter = staleAfter
	}
	if alertWindow > 0 {
		s.alertWindow = alertWindow
	}
	return s
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (s *Scanner) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastSweepAt     *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalScanned    int64      `json:"totalScanned"`
	TotalAlerted    int64      `json:"totalAlerted"`
	TotalSuppressed int64      `json:"totalSuppressed"`
	TotalErrors     int64      `json:"totalErrors"`
	LastError       string     `json:"lastError,omitempty"`
}

func (s *Scanner) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalScanned:    s.totalScanned.Load(),
		TotalAlerted:    s.totalAlerted.Load(),
		TotalSuppressed: s.totalSuppressed.Load(),
		TotalErrors:     s.totalErrors.Load(),
	}
	if n := s.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scanner) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastSweepUnixNano.Store(now.UnixNano())

	items, err := s.repo.QueryNeedingAttention(ctx, "", s.staleAfter, now)
	if err != nil {
		slog.Error("attention sweep query", "error", err.Error())
		s.recordError(err)
		return
	}
	s.totalScanned.Add(int64(len(items)))

	for _, sh := range items {
		if err := s.alertOne(ctx, sh, now); err != nil {
			s.totalErrors.Add(1)
			s.recordError(err)
			slog.Error("attention alert", "shipment_id", sh.ID, "error", err.Error())
		}
	}
}

func (s *Scanner) alertOne(ctx context.Context, sh *models.Shipment, now time.Time) error {
	// One alert per shipment per window; the sweep itself re-finds the same
	// shipments every cycle.
	if s.rl != nil && s.alertWindow > 0 {
		key := fmt.Sprintf("attention:%d:alerted", sh.ID)
		allowed, _, err := s.rl.Allow(ctx, key, 1, s.alertWindow)
		if err != nil {
			return errors.Wrap(err, "attention dedup")
		}
		if !allowed {
			s.totalSuppressed.Add(1)
			return nil
		}
	}

	msg := messages.ShipmentAttention{
		ShipmentID:     sh.ID,
		CompanyID:      sh.CompanyID,
		TrackingNumber: sh.TrackingNumber,
		InternalStatus: sh.InternalStatus,
		Reason:         s.classify(sh, now),
		FlaggedAt:      now,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal attention msg")
	}

	key := []byte(fmt.Sprintf("%d", sh.ID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		return errors.Wrap(err, "publish attention msg")
	}

	s.totalAlerted.Add(1)
	slog.Info("shipment needs attention",
		"shipment_id", sh.ID, "company_id", sh.CompanyID, "reason", msg.Reason, "status", sh.InternalStatus)
	return nil
}

func (s *Scanner) classify(sh *models.Shipment, now time.Time) string {
	if sh.NeedsAttention {
		return ReasonFlagged
	}
	if sh.TrackingStatus != nil && sh.TrackingStatus.Substatus.ActionRequired {
		return ReasonActionRequired
	}
	if sh.ETA != nil && sh.ETA.Before(now) {
		return ReasonPastETA
	}
	return ReasonStale
}

func (s *Scanner) recordError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
