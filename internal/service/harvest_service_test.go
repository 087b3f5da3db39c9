package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/harvest"
)

type fakeTxStore struct {
	txs []domain.Transaction
}

func (f *fakeTxStore) InsertBatch(context.Context, string, []domain.Transaction) (int, error) {
	return 0, nil
}

func (f *fakeTxStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Transaction, error) {
	return f.txs, nil
}

func (f *fakeTxStore) ListByAsset(context.Context, string, string, domain.ListOpts) ([]domain.Transaction, error) {
	return nil, nil
}

func (f *fakeTxStore) LatestTimestamp(context.Context, string, string) (time.Time, error) {
	return time.Time{}, domain.ErrNotFound
}

func (f *fakeTxStore) NextSeq(context.Context, string) (int64, error) { return 1, nil }

type fakeOppStore struct {
	runs      map[uuid.UUID][]domain.HarvestOpportunity
	summaries map[uuid.UUID]domain.Summary
	latest    domain.Summary
}

func newFakeOppStore() *fakeOppStore {
	return &fakeOppStore{
		runs:      make(map[uuid.UUID][]domain.HarvestOpportunity),
		summaries: make(map[uuid.UUID]domain.Summary),
	}
}

func (f *fakeOppStore) InsertRun(_ context.Context, _ string, opps []domain.HarvestOpportunity, sum domain.Summary) error {
	f.runs[sum.RunID] = opps
	f.summaries[sum.RunID] = sum
	f.latest = sum
	return nil
}

func (f *fakeOppStore) ListByRun(_ context.Context, runID uuid.UUID) ([]domain.HarvestOpportunity, error) {
	return f.runs[runID], nil
}

func (f *fakeOppStore) GetSummary(_ context.Context, runID uuid.UUID) (domain.Summary, error) {
	sum, ok := f.summaries[runID]
	if !ok {
		return domain.Summary{}, domain.ErrNotFound
	}
	return sum, nil
}

func (f *fakeOppStore) LatestRun(context.Context, string) (domain.Summary, error) {
	if f.latest.RunID == uuid.Nil {
		return domain.Summary{}, domain.ErrNotFound
	}
	return f.latest, nil
}

type fakeCaches struct {
	prices    domain.PriceSnapshot
	signals   domain.SignalSnapshot
	estimates domain.EstimateSnapshot
}

func (f *fakeCaches) SetPrice(context.Context, string, decimal.Decimal, time.Time) error { return nil }

func (f *fakeCaches) GetPrice(_ context.Context, assetID string) (decimal.Decimal, time.Time, error) {
	p, ok := f.prices[assetID]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (f *fakeCaches) GetPrices(context.Context, []string) (domain.PriceSnapshot, error) {
	return f.prices, nil
}

func (f *fakeCaches) SetSignal(context.Context, string, domain.RiskSignal, time.Time) error {
	return nil
}

func (f *fakeCaches) GetSignal(context.Context, string) (domain.RiskSignal, time.Time, error) {
	return domain.RiskSignal{}, time.Time{}, domain.ErrNotFound
}

func (f *fakeCaches) GetSignals(context.Context, []string) (domain.SignalSnapshot, error) {
	return f.signals, nil
}

func (f *fakeCaches) SetEstimate(context.Context, string, domain.CostEstimate, time.Time) error {
	return nil
}

func (f *fakeCaches) GetEstimates(context.Context, []string) (domain.EstimateSnapshot, error) {
	return f.estimates, nil
}

type fakeBus struct {
	published [][]byte
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newEngine(t *testing.T) *harvest.Engine {
	t.Helper()
	cfg := harvest.DefaultConfig()
	cfg.Benefit.TaxRate = decimal.NewFromFloat(0.24)
	engine, err := harvest.NewEngine(cfg, quietLogger())
	require.NoError(t, err)
	return engine
}

func lossPortfolio() ([]domain.Transaction, *fakeCaches) {
	acquired := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{{
		ID:           uuid.New(),
		Seq:          1,
		Timestamp:    acquired,
		Kind:         domain.KindAcquire,
		Quantity:     decimal.NewFromInt(10),
		UnitPriceUSD: decimal.NewFromInt(100),
		AssetID:      "ETH",
		SourceID:     "ethereum",
	}}
	caches := &fakeCaches{
		prices: domain.PriceSnapshot{"ETH": decimal.NewFromInt(40)},
		signals: domain.SignalSnapshot{"ETH": domain.RiskSignal{
			RiskScore: 5, LiquidityScore: 80, Liquid: true, Tradable: true,
		}},
		estimates: domain.EstimateSnapshot{"ETH": domain.CostEstimate{
			GasUSD:         decimal.NewFromInt(50),
			SlippageUSD:    decimal.NewFromInt(10),
			TradingFeesUSD: decimal.NewFromInt(5),
		}},
	}
	return txs, caches
}

func TestRunPass_PersistsAndPublishes(t *testing.T) {
	txs, caches := lossPortfolio()
	txStore := &fakeTxStore{txs: txs}
	oppStore := newFakeOppStore()
	bus := &fakeBus{}

	svc := NewHarvestService(newEngine(t), txStore, oppStore, nil,
		caches, caches, caches, bus, quietLogger())

	report, err := svc.RunPass(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, report.Opportunities, 1)

	opp := report.Opportunities[0]
	assert.True(t, decimal.NewFromInt(600).Equal(opp.UnrealizedLossUSD),
		"loss = 10 × (100 − 40)")
	assert.True(t, decimal.NewFromInt(144).Equal(opp.TaxSavingsUSD))
	assert.True(t, decimal.NewFromInt(79).Equal(opp.NetBenefitUSD))
	assert.Equal(t, domain.Recommended, opp.Recommendation)

	// Persisted under the run ID.
	stored, err := svc.Opportunities(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Opportunities, stored)

	sum, err := svc.Summary(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Summary, sum)

	// Report event published.
	require.Len(t, bus.published, 1)
	var ev ReportEvent
	require.NoError(t, json.Unmarshal(bus.published[0], &ev))
	assert.Equal(t, "report_ready", ev.Event)
	assert.Equal(t, report.RunID, ev.RunID)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, 1, ev.OpportunityCount)
}

func TestRunPass_EmptyHistoryYieldsEmptyRun(t *testing.T) {
	oppStore := newFakeOppStore()
	caches := &fakeCaches{
		prices:    domain.PriceSnapshot{},
		signals:   domain.SignalSnapshot{},
		estimates: domain.EstimateSnapshot{},
	}
	svc := NewHarvestService(newEngine(t), &fakeTxStore{}, oppStore, nil,
		caches, caches, caches, nil, quietLogger())

	report, err := svc.RunPass(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, report.Opportunities)
	assert.Equal(t, 0, report.Summary.OpportunityCount)
	assert.Equal(t, domain.GasGradeA, report.Summary.GasEfficiencyGrade)

	// Even an empty run is persisted for audit.
	latest, err := svc.LatestSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, report.RunID, latest.RunID)
}

func TestUpsertSignal_RejectsOutOfRange(t *testing.T) {
	svc := NewSignalService(&fakeCaches{}, &fakeCaches{}, quietLogger())

	err := svc.UpsertSignal(context.Background(), "ETH",
		domain.RiskSignal{RiskScore: 11, LiquidityScore: 50}, time.Now())
	assert.Error(t, err)

	err = svc.UpsertSignal(context.Background(), "ETH",
		domain.RiskSignal{RiskScore: 5, LiquidityScore: 101}, time.Now())
	assert.Error(t, err)

	err = svc.UpsertSignal(context.Background(), "ETH",
		domain.RiskSignal{RiskScore: 5, LiquidityScore: 50}, time.Now())
	assert.NoError(t, err)
}

func TestUpdatePrice_RejectsNegative(t *testing.T) {
	svc := NewPriceService(&fakeCaches{prices: domain.PriceSnapshot{}}, quietLogger())

	err := svc.UpdatePrice(context.Background(), "ETH", decimal.NewFromInt(-1), time.Now())
	assert.Error(t, err)

	err = svc.UpdatePrice(context.Background(), "", decimal.NewFromInt(1), time.Now())
	assert.Error(t, err)

	err = svc.UpdatePrice(context.Background(), "ETH", decimal.NewFromInt(2500), time.Now())
	assert.NoError(t, err)
}

func TestUpsertEstimate_RejectsNegativeCosts(t *testing.T) {
	svc := NewSignalService(&fakeCaches{}, &fakeCaches{}, quietLogger())

	err := svc.UpsertEstimate(context.Background(), "ETH", domain.CostEstimate{
		GasUSD: decimal.NewFromInt(-5),
	}, time.Now())
	assert.Error(t, err)

	err = svc.UpsertEstimate(context.Background(), "ETH", domain.CostEstimate{
		GasUSD:         decimal.NewFromInt(5),
		SlippageUSD:    decimal.NewFromInt(1),
		TradingFeesUSD: decimal.NewFromInt(1),
	}, time.Now())
	assert.NoError(t, err)
}
