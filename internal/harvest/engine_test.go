package harvest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lossharvest/harvestd/internal/domain"
)

var (
	day0  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	runID = uuid.MustParse("11111111-2222-3333-4444-555555555555")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T, taxRate string) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Benefit.TaxRate = decimal.RequireFromString(taxRate)
	eng, err := NewEngine(cfg, testLogger())
	require.NoError(t, err)
	return eng
}

func tx(seq int64, day int, kind domain.TransactionKind, asset, qty, price string) domain.Transaction {
	return domain.Transaction{
		Seq:          seq,
		Timestamp:    day0.AddDate(0, 0, day),
		Kind:         kind,
		Quantity:     decimal.RequireFromString(qty),
		UnitPriceUSD: decimal.RequireFromString(price),
		AssetID:      asset,
		SourceID:     "wallet-1",
	}
}

func goodSignal() domain.RiskSignal {
	return domain.RiskSignal{RiskScore: 5, LiquidityScore: 80, Liquid: true, Tradable: true}
}

func snapshot(now time.Time) domain.Snapshot {
	return domain.Snapshot{
		Prices: domain.PriceSnapshot{
			"ETH": decimal.NewFromInt(40),
		},
		Signals: domain.SignalSnapshot{
			"ETH": goodSignal(),
		},
		Estimates: domain.EstimateSnapshot{
			"ETH": {
				GasUSD:         decimal.NewFromInt(50),
				SlippageUSD:    decimal.NewFromInt(10),
				TradingFeesUSD: decimal.NewFromInt(5),
			},
		},
		Now:        now,
		CapturedAt: now,
	}
}

func TestRun_EndToEndOpportunity(t *testing.T) {
	// 10 ETH acquired at $100, now $40: loss of $600. With tax rate 0.24,
	// gas $50, slippage $10, fees $5: net = 144 - 65 = 79, Recommended.
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 100)

	report, err := eng.Run(context.Background(), runID,
		[]domain.Transaction{tx(1, 0, domain.KindAcquire, "ETH", "10", "100")},
		snapshot(now),
	)
	require.NoError(t, err)
	require.Len(t, report.Opportunities, 1)

	opp := report.Opportunities[0]
	assert.True(t, opp.UnrealizedLossUSD.Equal(decimal.NewFromInt(600)))
	assert.True(t, opp.TaxSavingsUSD.Equal(decimal.NewFromInt(144)))
	assert.True(t, opp.NetBenefitUSD.Equal(decimal.NewFromInt(79)))
	assert.Equal(t, domain.Recommended, opp.Recommendation)
	assert.Equal(t, domain.RiskTierMedium, opp.RiskTier)
	assert.Equal(t, domain.ConfidenceHigh, opp.Confidence)
	assert.Equal(t, 100, opp.HoldingPeriodDays)
	assert.False(t, opp.IsLongTerm)

	assert.True(t, report.Summary.TotalHarvestableLossUSD.Equal(decimal.NewFromInt(600)))
	assert.True(t, report.Summary.TotalNetBenefitUSD.Equal(decimal.NewFromInt(79)))
	assert.Equal(t, 1, report.Summary.EligibleAssetCount)
	// 50/600 ≈ 8.3% average gas ratio.
	assert.Equal(t, domain.GasGradeB, report.Summary.GasEfficiencyGrade)
}

func TestRun_IneligibleLotProducesNoOpportunity(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 10)

	snap := snapshot(now)
	sig := goodSignal()
	sig.Tradable = false
	snap.Signals["ETH"] = sig

	report, err := eng.Run(context.Background(), runID,
		[]domain.Transaction{tx(1, 0, domain.KindAcquire, "ETH", "10", "100")},
		snap,
	)
	require.NoError(t, err)
	assert.Empty(t, report.Opportunities)
	assert.Equal(t, 0, report.Summary.EligibleAssetCount)
}

func TestRun_MissingPriceSurfacedNotDropped(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 10)

	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),
		tx(2, 0, domain.KindAcquire, "OBSCURE", "5", "10"),
	}

	report, err := eng.Run(context.Background(), runID, txs, snapshot(now))
	require.NoError(t, err)

	require.Len(t, report.MissingPrices, 1)
	assert.Equal(t, "OBSCURE", report.MissingPrices[0].Lot.AssetID)
	assert.Equal(t, domain.FlagPriceUnavailable, report.MissingPrices[0].Flag.Kind)

	// The priced asset still produced its opportunity.
	require.Len(t, report.Opportunities, 1)
	assert.Equal(t, "ETH", report.Opportunities[0].AssetID)
}

func TestRun_MissingEstimateExcludedNotScored(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 50)

	// BTC is priced and signalled but has no cost estimate, so its loss must
	// not be scored against zero execution costs.
	snap := snapshot(now)
	snap.Prices["BTC"] = decimal.NewFromInt(30000)
	snap.Signals["BTC"] = goodSignal()

	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),
		tx(2, 0, domain.KindAcquire, "BTC", "1", "50000"),
	}

	report, err := eng.Run(context.Background(), runID, txs, snap)
	require.NoError(t, err)

	require.Len(t, report.MissingEstimates, 1)
	assert.Equal(t, "BTC", report.MissingEstimates[0].Lot.AssetID)
	assert.Equal(t, domain.FlagEstimateUnavailable, report.MissingEstimates[0].Flag.Kind)

	require.Len(t, report.Opportunities, 1)
	assert.Equal(t, "ETH", report.Opportunities[0].AssetID)
	assert.Equal(t, 1, report.Summary.EligibleAssetCount)
}

func TestRun_OverDisposalDowngradesConfidence(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 100)

	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),
		tx(2, 1, domain.KindDispose, "ETH", "12", "100"), // over-disposal, clamped
		tx(3, 2, domain.KindAcquire, "ETH", "10", "100"),
	}

	report, err := eng.Run(context.Background(), runID, txs, snapshot(now))
	require.NoError(t, err)
	require.Len(t, report.Opportunities, 1)

	opp := report.Opportunities[0]
	assert.NotEqual(t, domain.ConfidenceHigh, opp.Confidence)

	var hasOverDisposal bool
	for _, f := range opp.Flags {
		if f.Kind == domain.FlagOverDisposal {
			hasOverDisposal = true
		}
	}
	assert.True(t, hasOverDisposal)
}

func TestRun_WashSaleAdvisoryFlag(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 100)

	// Dispose on day 5, re-acquire on day 15: inside the 30-day window.
	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),
		tx(2, 5, domain.KindDispose, "ETH", "5", "90"),
		tx(3, 15, domain.KindAcquire, "ETH", "5", "85"),
	}

	report, err := eng.Run(context.Background(), runID, txs, snapshot(now))
	require.NoError(t, err)
	require.NotEmpty(t, report.Opportunities)

	var flagged bool
	for _, f := range report.Opportunities[0].Flags {
		if f.Kind == domain.FlagWashSalePattern {
			flagged = true
		}
	}
	assert.True(t, flagged, "expected advisory wash-sale flag")
}

func TestRun_RepurchaseOutsideWindowNotFlagged(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 100)

	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),
		tx(2, 5, domain.KindDispose, "ETH", "5", "90"),
		tx(3, 40, domain.KindAcquire, "ETH", "5", "85"),
	}

	report, err := eng.Run(context.Background(), runID, txs, snapshot(now))
	require.NoError(t, err)
	require.NotEmpty(t, report.Opportunities)

	for _, f := range report.Opportunities[0].Flags {
		assert.NotEqual(t, domain.FlagWashSalePattern, f.Kind)
	}
}

func TestRun_Idempotent(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 200)

	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),
		tx(2, 3, domain.KindAcquire, "ETH", "4", "120"),
		tx(3, 7, domain.KindDispose, "ETH", "6", "110"),
		tx(4, 9, domain.KindAcquire, "BTC", "1", "50000"),
	}

	snap := snapshot(now)
	snap.Prices["BTC"] = decimal.NewFromInt(30000)
	snap.Signals["BTC"] = goodSignal()
	snap.Estimates["BTC"] = domain.CostEstimate{
		GasUSD:         decimal.NewFromInt(20),
		SlippageUSD:    decimal.NewFromInt(40),
		TradingFeesUSD: decimal.NewFromInt(15),
	}

	first, err := eng.Run(context.Background(), runID, txs, snap)
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), runID, txs, snap)
	require.NoError(t, err)

	require.Equal(t, len(first.Opportunities), len(second.Opportunities))
	assert.Equal(t, first.Opportunities, second.Opportunities)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRun_RankedByNetBenefit(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 50)

	txs := []domain.Transaction{
		tx(1, 0, domain.KindAcquire, "ETH", "10", "100"),  // loss 600, net 79
		tx(2, 0, domain.KindAcquire, "BTC", "1", "50000"), // loss 20000, much larger net
	}

	snap := snapshot(now)
	snap.Prices["BTC"] = decimal.NewFromInt(30000)
	snap.Signals["BTC"] = goodSignal()
	snap.Estimates["BTC"] = domain.CostEstimate{
		GasUSD:         decimal.NewFromInt(20),
		SlippageUSD:    decimal.NewFromInt(40),
		TradingFeesUSD: decimal.NewFromInt(15),
	}

	report, err := eng.Run(context.Background(), runID, txs, snap)
	require.NoError(t, err)
	require.Len(t, report.Opportunities, 2)

	assert.Equal(t, "BTC", report.Opportunities[0].AssetID)
	assert.Equal(t, "ETH", report.Opportunities[1].AssetID)
	assert.True(t, report.Opportunities[0].NetBenefitUSD.GreaterThan(report.Opportunities[1].NetBenefitUSD))
	assert.Equal(t, 2, report.Summary.EligibleAssetCount)
}

func TestRun_InvalidPartitionIsolated(t *testing.T) {
	eng := testEngine(t, "0.24")
	now := day0.AddDate(0, 0, 50)

	bad := tx(1, 0, domain.KindAcquire, "BAD", "10", "100")
	bad.Quantity = decimal.NewFromInt(-3)

	report, err := eng.Run(context.Background(), runID,
		[]domain.Transaction{bad, tx(2, 0, domain.KindAcquire, "ETH", "10", "100")},
		snapshot(now),
	)
	require.NoError(t, err)

	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "BAD", report.Rejected[0].Partition.AssetID)
	assert.ErrorIs(t, report.Rejected[0].Err, domain.ErrInvalidTransaction)

	require.Len(t, report.Opportunities, 1)
	assert.Equal(t, "ETH", report.Opportunities[0].AssetID)
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Benefit.TaxRate = decimal.RequireFromString("1.5")

	_, err := NewEngine(cfg, testLogger())
	assert.Error(t, err)
}

func TestSummarize_GasGrades(t *testing.T) {
	opp := func(loss, gas string) domain.HarvestOpportunity {
		return domain.HarvestOpportunity{
			AssetID:           "ETH",
			UnrealizedLossUSD: decimal.RequireFromString(loss),
			GasEstimateUSD:    decimal.RequireFromString(gas),
			NetBenefitUSD:     decimal.NewFromInt(1),
		}
	}
	now := day0

	a := Summarize(runID, []domain.HarvestOpportunity{opp("1000", "10")}, now) // 1%
	assert.Equal(t, domain.GasGradeA, a.GasEfficiencyGrade)

	b := Summarize(runID, []domain.HarvestOpportunity{opp("1000", "100")}, now) // 10%
	assert.Equal(t, domain.GasGradeB, b.GasEfficiencyGrade)

	c := Summarize(runID, []domain.HarvestOpportunity{opp("1000", "200")}, now) // 20%
	assert.Equal(t, domain.GasGradeC, c.GasEfficiencyGrade)

	empty := Summarize(runID, nil, now)
	assert.Equal(t, domain.GasGradeA, empty.GasEfficiencyGrade)
	assert.Equal(t, 0, empty.EligibleAssetCount)
}
