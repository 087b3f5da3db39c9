// Package service orchestrates the harvest pipeline around the pure engine:
// snapshot capture, transaction loading, persistence, and report fan-out.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/harvest"
)

// ReportChannel is the bus channel harvest pass events are published on.
const ReportChannel = "reports"

// ReportEvent is the JSON payload published after each completed pass.
type ReportEvent struct {
	Event            string    `json:"event"`
	RunID            uuid.UUID `json:"run_id"`
	UserID           string    `json:"user_id"`
	OpportunityCount int       `json:"opportunity_count"`
	ComputedAt       time.Time `json:"computed_at"`
}

// HarvestService runs complete harvest passes. All blocking I/O happens here:
// the engine itself only ever sees an immutable snapshot.
type HarvestService struct {
	engine    *harvest.Engine
	txStore   domain.TransactionStore
	oppStore  domain.OpportunityStore
	audit     domain.AuditStore
	prices    domain.PriceCache
	signals   domain.SignalCache
	estimates domain.EstimateCache
	bus       domain.ReportBus
	logger    *slog.Logger
}

// NewHarvestService wires the harvest service. audit and bus may be nil; the
// pass then runs without audit logging or report events.
func NewHarvestService(
	engine *harvest.Engine,
	txStore domain.TransactionStore,
	oppStore domain.OpportunityStore,
	audit domain.AuditStore,
	prices domain.PriceCache,
	signals domain.SignalCache,
	estimates domain.EstimateCache,
	bus domain.ReportBus,
	logger *slog.Logger,
) *HarvestService {
	return &HarvestService{
		engine:    engine,
		txStore:   txStore,
		oppStore:  oppStore,
		audit:     audit,
		prices:    prices,
		signals:   signals,
		estimates: estimates,
		bus:       bus,
		logger:    logger.With(slog.String("component", "harvest_service")),
	}
}

// RunPass executes one full pass for a user: load the transaction history,
// capture an immutable snapshot from the caches, run the engine, persist the
// results, and publish a report event.
func (s *HarvestService) RunPass(ctx context.Context, userID string) (harvest.Report, error) {
	txs, err := s.txStore.ListByUser(ctx, userID, domain.ListOpts{})
	if err != nil {
		return harvest.Report{}, fmt.Errorf("service: load transactions: %w", err)
	}

	snap, err := s.captureSnapshot(ctx, txs)
	if err != nil {
		return harvest.Report{}, err
	}

	runID := uuid.New()
	report, err := s.engine.Run(ctx, runID, txs, snap)
	if err != nil {
		return harvest.Report{}, fmt.Errorf("service: run engine: %w", err)
	}

	if err := s.oppStore.InsertRun(ctx, userID, report.Opportunities, report.Summary); err != nil {
		return harvest.Report{}, fmt.Errorf("service: persist run %s: %w", runID, err)
	}

	s.auditPass(ctx, userID, report)
	s.publishReport(ctx, userID, report)

	s.logger.InfoContext(ctx, "harvest pass complete",
		slog.String("run_id", runID.String()),
		slog.String("user_id", userID),
		slog.Int("opportunities", len(report.Opportunities)),
		slog.Int("rejected_partitions", len(report.Rejected)),
		slog.Int("missing_prices", len(report.MissingPrices)),
		slog.Int("missing_estimates", len(report.MissingEstimates)))

	return report, nil
}

// captureSnapshot materializes the immutable per-pass input set. Assets absent
// from a cache are simply absent from the snapshot; the pipeline turns those
// gaps into data-quality flags, never errors.
func (s *HarvestService) captureSnapshot(ctx context.Context, txs []domain.Transaction) (domain.Snapshot, error) {
	assetSet := make(map[string]struct{})
	for _, tx := range txs {
		assetSet[tx.AssetID] = struct{}{}
	}
	assetIDs := make([]string, 0, len(assetSet))
	for id := range assetSet {
		assetIDs = append(assetIDs, id)
	}

	prices, err := s.prices.GetPrices(ctx, assetIDs)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("service: capture prices: %w", err)
	}
	signals, err := s.signals.GetSignals(ctx, assetIDs)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("service: capture signals: %w", err)
	}
	estimates, err := s.estimates.GetEstimates(ctx, assetIDs)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("service: capture estimates: %w", err)
	}

	now := time.Now().UTC()
	return domain.Snapshot{
		Prices:     prices,
		Signals:    signals,
		Estimates:  estimates,
		Now:        now,
		CapturedAt: now,
	}, nil
}

func (s *HarvestService) auditPass(ctx context.Context, userID string, report harvest.Report) {
	if s.audit == nil {
		return
	}
	err := s.audit.Log(ctx, "harvest_pass", map[string]any{
		"run_id":              report.RunID.String(),
		"user_id":             userID,
		"opportunity_count":   len(report.Opportunities),
		"rejected_partitions": len(report.Rejected),
		"missing_prices":      len(report.MissingPrices),
		"missing_estimates":   len(report.MissingEstimates),
		"total_net_benefit":   report.Summary.TotalNetBenefitUSD.String(),
		"gas_grade":           string(report.Summary.GasEfficiencyGrade),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}

func (s *HarvestService) publishReport(ctx context.Context, userID string, report harvest.Report) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ReportEvent{
		Event:            "report_ready",
		RunID:            report.RunID,
		UserID:           userID,
		OpportunityCount: len(report.Opportunities),
		ComputedAt:       report.Summary.ComputedAt,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ReportChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "report publish failed", slog.String("error", err.Error()))
	}
}

// Opportunities returns a stored run's opportunities, ranked as computed.
func (s *HarvestService) Opportunities(ctx context.Context, runID uuid.UUID) ([]domain.HarvestOpportunity, error) {
	return s.oppStore.ListByRun(ctx, runID)
}

// Summary returns a stored run's summary.
func (s *HarvestService) Summary(ctx context.Context, runID uuid.UUID) (domain.Summary, error) {
	return s.oppStore.GetSummary(ctx, runID)
}

// LatestSummary returns the most recent run summary for a user.
func (s *HarvestService) LatestSummary(ctx context.Context, userID string) (domain.Summary, error) {
	return s.oppStore.LatestRun(ctx, userID)
}
