// Package harvest runs the full candidate pipeline: ledger reconstruction,
// valuation, eligibility, benefit and risk scoring, and aggregation. One Run
// is a pure function of the transaction history and an immutable snapshot;
// partitions are computed in parallel but each sees only its own slice of the
// inputs, so the result is deterministic regardless of scheduling.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lossharvest/harvestd/internal/benefit"
	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/eligibility"
	"github.com/lossharvest/harvestd/internal/ledger"
	"github.com/lossharvest/harvestd/internal/valuation"
)

// oppNamespace seeds deterministic opportunity IDs derived from (run, lot).
var oppNamespace = uuid.MustParse("3d1f4c92-7a85-4e06-b8c1-2a9de0f61b7c")

// Config holds every injectable parameter of a harvest pass.
type Config struct {
	Eligibility        eligibility.Thresholds
	Benefit            benefit.Params
	LongTermDays       int
	WashSaleWindowDays int
	Parallelism        int
}

// DefaultConfig returns the documented defaults; the tax rate still has to be
// injected by the caller.
func DefaultConfig() Config {
	return Config{
		Eligibility:        eligibility.DefaultThresholds(),
		Benefit:            benefit.DefaultParams(),
		LongTermDays:       valuation.DefaultLongTermDays,
		WashSaleWindowDays: 30,
		Parallelism:        4,
	}
}

// Validate rejects inconsistent configuration before any computation starts.
func (c Config) Validate() error {
	if err := c.Eligibility.Validate(); err != nil {
		return err
	}
	if err := c.Benefit.Validate(); err != nil {
		return err
	}
	if c.LongTermDays < 0 {
		return fmt.Errorf("harvest: long-term days must not be negative, got %d", c.LongTermDays)
	}
	if c.WashSaleWindowDays < 0 {
		return fmt.Errorf("harvest: wash-sale window must not be negative, got %d", c.WashSaleWindowDays)
	}
	return nil
}

// Report is the complete output of one pass. Data-quality conditions
// (missing prices, rejected partitions) ride along for caller visibility
// instead of aborting the batch.
type Report struct {
	RunID            uuid.UUID
	Opportunities    []domain.HarvestOpportunity
	Summary          domain.Summary
	MissingPrices    []valuation.MissingPrice
	MissingEstimates []MissingEstimate
	Rejected         []ledger.RejectedPartition
}

// MissingEstimate records a valued lot excluded from consideration because the
// snapshot had no execution-cost estimate for its asset. Without one the gas
// predicate and net benefit cannot be computed honestly, so the lot is
// surfaced here instead of scored against zero costs.
type MissingEstimate struct {
	Lot  domain.ValuedLot
	Flag domain.Flag
}

// Engine executes harvest passes. It holds no mutable state between runs.
type Engine struct {
	cfg      Config
	valuator *valuation.Valuator
	logger   *slog.Logger
}

// NewEngine validates cfg and returns a ready Engine.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		valuator: valuation.New(cfg.LongTermDays),
		logger:   logger.With(slog.String("component", "harvest_engine")),
	}, nil
}

// Run executes the pipeline for one user batch. runID names the pass; two
// calls with the same runID, transactions, and snapshot produce bit-identical
// reports.
func (e *Engine) Run(ctx context.Context, runID uuid.UUID, txs []domain.Transaction, snap domain.Snapshot) (Report, error) {
	byPartition := make(map[domain.PartitionKey][]domain.Transaction)
	var keys []domain.PartitionKey
	for _, tx := range txs {
		key := tx.Partition()
		if _, seen := byPartition[key]; !seen {
			keys = append(keys, key)
		}
		byPartition[key] = append(byPartition[key], tx)
	}

	g, ctx := errgroup.WithContext(ctx)
	limit := e.cfg.Parallelism
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	var mu sync.Mutex
	report := Report{RunID: runID}

	for _, key := range keys {
		partTxs := byPartition[key]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			part := e.runPartition(runID, partTxs, snap)

			mu.Lock()
			defer mu.Unlock()
			report.Opportunities = append(report.Opportunities, part.opportunities...)
			report.MissingPrices = append(report.MissingPrices, part.missing...)
			report.MissingEstimates = append(report.MissingEstimates, part.missingEstimates...)
			report.Rejected = append(report.Rejected, part.rejected...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("harvest: run %s: %w", runID, err)
	}

	sortOpportunities(report.Opportunities)
	sortMissing(report.MissingPrices)
	sortMissingEstimates(report.MissingEstimates)
	sortRejected(report.Rejected)

	report.Summary = Summarize(runID, report.Opportunities, snap.Now)

	e.logger.InfoContext(ctx, "harvest pass complete",
		slog.String("run_id", runID.String()),
		slog.Int("partitions", len(keys)),
		slog.Int("opportunities", len(report.Opportunities)),
		slog.Int("missing_prices", len(report.MissingPrices)),
		slog.Int("missing_estimates", len(report.MissingEstimates)),
		slog.Int("rejected_partitions", len(report.Rejected)),
	)
	return report, nil
}

// partitionOutput is the per-partition intermediate result merged under lock.
type partitionOutput struct {
	opportunities    []domain.HarvestOpportunity
	missing          []valuation.MissingPrice
	missingEstimates []MissingEstimate
	rejected         []ledger.RejectedPartition
}

// runPartition executes the left-to-right pipeline for one (asset, source)
// partition against the fixed snapshot.
func (e *Engine) runPartition(runID uuid.UUID, txs []domain.Transaction, snap domain.Snapshot) partitionOutput {
	var out partitionOutput

	rec := ledger.Reconstruct(txs)
	out.rejected = rec.Rejected

	washFlag := detectWashSalePattern(txs, e.cfg.WashSaleWindowDays)

	for _, part := range rec.Partitions {
		valued := e.valuator.Value(part.Lots, snap.Prices, snap.Now)
		out.missing = append(out.missing, valued.Missing...)

		for _, vl := range valued.Valued {
			sig := snap.Signals[vl.AssetID]
			est, ok := snap.Estimates[vl.AssetID]
			if !ok {
				out.missingEstimates = append(out.missingEstimates, MissingEstimate{
					Lot: vl,
					Flag: domain.Flag{
						Kind:   domain.FlagEstimateUnavailable,
						Detail: "no cost estimate in snapshot for " + vl.AssetID,
					},
				})
				continue
			}

			gate := eligibility.Check(eligibility.Input{
				Lot:            vl,
				Signal:         sig,
				GasEstimateUSD: est.GasUSD,
				Thresholds:     e.cfg.Eligibility,
			})
			if !gate.Eligible {
				continue
			}

			outcome := benefit.Compute(vl, est, e.cfg.Benefit)

			flags := append([]domain.Flag(nil), vl.Flags...)
			if washFlag != nil {
				flags = append(flags, *washFlag)
			}

			out.opportunities = append(out.opportunities, domain.HarvestOpportunity{
				ID:                  opportunityID(runID, vl.LotID),
				RunID:               runID,
				SourceLotID:         vl.LotID,
				AssetID:             vl.AssetID,
				SourceID:            vl.SourceID,
				UnrealizedLossUSD:   vl.UnrealizedPnLUSD.Abs(),
				GasEstimateUSD:      est.GasUSD,
				SlippageEstimateUSD: est.SlippageUSD,
				TradingFeesUSD:      est.TradingFeesUSD,
				TaxSavingsUSD:       outcome.TaxSavingsUSD,
				NetBenefitUSD:       outcome.NetBenefitUSD,
				RiskTier:            benefit.ClassifyRisk(sig),
				Recommendation:      outcome.Recommendation,
				Confidence:          domain.ConfidenceFromFlags(flags),
				HoldingPeriodDays:   vl.HoldingPeriodDays,
				IsLongTerm:          vl.IsLongTerm,
				Flags:               flags,
				ComputedAt:          snap.Now,
			})
		}
	}
	return out
}

// detectWashSalePattern reports whether any disposal is followed by an
// acquisition within the window. The flag is advisory only; nothing is
// enforced or excluded because of it.
func detectWashSalePattern(txs []domain.Transaction, windowDays int) *domain.Flag {
	if windowDays <= 0 {
		return nil
	}
	sorted := make([]domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	for i, tx := range sorted {
		if !tx.Kind.ConsumesLots() {
			continue
		}
		deadline := tx.Timestamp.AddDate(0, 0, windowDays)
		for _, later := range sorted[i+1:] {
			if later.Timestamp.After(deadline) {
				break
			}
			if later.Kind == domain.KindAcquire {
				return &domain.Flag{
					Kind: domain.FlagWashSalePattern,
					Detail: fmt.Sprintf("repurchase of %s within %d days of a disposal",
						tx.AssetID, windowDays),
				}
			}
		}
	}
	return nil
}

// opportunityID derives a deterministic ID for the (run, lot) pair.
func opportunityID(runID, lotID uuid.UUID) uuid.UUID {
	name := runID.String() + "|" + lotID.String()
	return uuid.NewSHA1(oppNamespace, []byte(name))
}

// sortOpportunities applies the fixed ranking key: highest net benefit first,
// ties broken by asset then lot ID so output order never depends on
// scheduling.
func sortOpportunities(opps []domain.HarvestOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if !opps[i].NetBenefitUSD.Equal(opps[j].NetBenefitUSD) {
			return opps[i].NetBenefitUSD.GreaterThan(opps[j].NetBenefitUSD)
		}
		if opps[i].AssetID != opps[j].AssetID {
			return opps[i].AssetID < opps[j].AssetID
		}
		return opps[i].SourceLotID.String() < opps[j].SourceLotID.String()
	})
}

func sortMissing(missing []valuation.MissingPrice) {
	sort.SliceStable(missing, func(i, j int) bool {
		if missing[i].Lot.AssetID != missing[j].Lot.AssetID {
			return missing[i].Lot.AssetID < missing[j].Lot.AssetID
		}
		return missing[i].Lot.LotID.String() < missing[j].Lot.LotID.String()
	})
}

func sortMissingEstimates(missing []MissingEstimate) {
	sort.SliceStable(missing, func(i, j int) bool {
		if missing[i].Lot.AssetID != missing[j].Lot.AssetID {
			return missing[i].Lot.AssetID < missing[j].Lot.AssetID
		}
		return missing[i].Lot.LotID.String() < missing[j].Lot.LotID.String()
	})
}

func sortRejected(rejected []ledger.RejectedPartition) {
	sort.SliceStable(rejected, func(i, j int) bool {
		if rejected[i].Partition.AssetID != rejected[j].Partition.AssetID {
			return rejected[i].Partition.AssetID < rejected[j].Partition.AssetID
		}
		return rejected[i].Partition.SourceID < rejected[j].Partition.SourceID
	})
}
