package attention

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	items []*models.Shipment
	err   error
	calls int
}

func (r *fakeRepo) QueryNeedingAttention(ctx context.Context, companyID string, staleAfter time.Duration, now time.Time) ([]*models.Shipment, error) {
	r.calls++
	return r.items, r.err
}

type fakeProducer struct {
	topics []string
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return nil
}

type fakeRL struct {
	allowed map[string]bool
	seen    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.seen = append(r.seen, key)
	if r.allowed == nil {
		return true, 1, nil
	}
	return r.allowed[key], 1, nil
}

func TestScanner_runOnce_publishesWithReason(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	old := now.Add(-72 * time.Hour)

	repo := &fakeRepo{items: []*models.Shipment{
		{ID: 1, CompanyID: "co1", TrackingNumber: "A", InternalStatus: models.InternalStatusException, NeedsAttention: true},
		{ID: 2, CompanyID: "co1", TrackingNumber: "B", InternalStatus: models.InternalStatusInTransit,
			TrackingStatus: &models.TrackingStatus{Substatus: models.Substatus{Code: "address_issue", ActionRequired: true}}},
		{ID: 3, CompanyID: "co2", TrackingNumber: "C", InternalStatus: models.InternalStatusInTransit, ETA: &past},
		{ID: 4, CompanyID: "co2", TrackingNumber: "D", InternalStatus: models.InternalStatusShipped, LastWebhookAt: &old},
	}}
	fp := &fakeProducer{}
	s := New(repo, fp, nil, "shipment.attention")

	s.runOnce(context.Background())
	require.Len(t, fp.values, 4)

	reasons := map[uint64]string{}
	for _, b := range fp.values {
		var msg messages.ShipmentAttention
		require.NoError(t, json.Unmarshal(b, &msg))
		reasons[msg.ShipmentID] = msg.Reason
	}
	require.Equal(t, ReasonFlagged, reasons[1])
	require.Equal(t, ReasonActionRequired, reasons[2])
	require.Equal(t, ReasonPastETA, reasons[3])
	require.Equal(t, ReasonStale, reasons[4])

	st := s.Stats()
	require.Equal(t, int64(4), st.TotalScanned)
	require.Equal(t, int64(4), st.TotalAlerted)
	require.Zero(t, st.TotalErrors)
}

func TestScanner_runOnce_dedupSuppresses(t *testing.T) {
	repo := &fakeRepo{items: []*models.Shipment{
		{ID: 1, CompanyID: "co1", NeedsAttention: true},
		{ID: 2, CompanyID: "co1", NeedsAttention: true},
	}}
	fp := &fakeProducer{}
	rl := &fakeRL{allowed: map[string]bool{
		"attention:1:alerted": true,
		"attention:2:alerted": false,
	}}
	s := New(repo, fp, rl, "shipment.attention")

	s.runOnce(context.Background())
	require.Len(t, fp.values, 1)

	st := s.Stats()
	require.Equal(t, int64(1), st.TotalAlerted)
	require.Equal(t, int64(1), st.TotalSuppressed)
}

func TestScanner_runOnce_queryError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	fp := &fakeProducer{}
	s := New(repo, fp, nil, "shipment.attention")

	s.runOnce(context.Background())
	require.Empty(t, fp.values)
	require.Equal(t, "db down", s.Stats().LastError)
}

func TestScanner_runOnce_publishError(t *testing.T) {
	repo := &fakeRepo{items: []*models.Shipment{{ID: 1, NeedsAttention: true}}}
	fp := &fakeProducer{err: errors.New("broker down")}
	s := New(repo, fp, nil, "shipment.attention")

	s.runOnce(context.Background())
	st := s.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "broker down")
}

func TestScanner_WithSettings(t *testing.T) {
	s := New(&fakeRepo{}, &fakeProducer{}, nil, "t").
		WithSettings(time.Minute, 24*time.Hour, time.Hour)
	require.Equal(t, time.Minute, s.sweepInterval)
	require.Equal(t, 24*time.Hour, s.staleAfter)
	require.Equal(t, time.Hour, s.alertWindow)
}

func TestScanner_Run_stopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, &fakeProducer{}, nil, "t").WithSettings(5*time.Millisecond, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, repo.calls, 1)
}
