package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lossharvest/harvestd/internal/domain"
)

// SignalService accepts the externally supplied risk/liquidity signals and
// execution cost estimates. Beyond range-sanity checks the values are trusted
// as-is; their staleness policy is the caller's concern.
type SignalService struct {
	signals   domain.SignalCache
	estimates domain.EstimateCache
	logger    *slog.Logger
}

// NewSignalService creates a SignalService.
func NewSignalService(signals domain.SignalCache, estimates domain.EstimateCache, logger *slog.Logger) *SignalService {
	return &SignalService{
		signals:   signals,
		estimates: estimates,
		logger:    logger.With(slog.String("component", "signal_service")),
	}
}

// UpsertSignal validates and stores one asset's risk signal. Signals outside
// the documented ranges (risk 0..10, liquidity 0..100) are rejected.
func (s *SignalService) UpsertSignal(ctx context.Context, assetID string, sig domain.RiskSignal, ts time.Time) error {
	if assetID == "" {
		return fmt.Errorf("service: upsert signal: empty asset id")
	}
	if !sig.ValidRanges() {
		return fmt.Errorf("service: upsert signal %s: out of range (risk=%d liquidity=%d)",
			assetID, sig.RiskScore, sig.LiquidityScore)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := s.signals.SetSignal(ctx, assetID, sig, ts); err != nil {
		return fmt.Errorf("service: upsert signal %s: %w", assetID, err)
	}
	return nil
}

// Signal returns the cached signal and its timestamp for one asset.
func (s *SignalService) Signal(ctx context.Context, assetID string) (domain.RiskSignal, time.Time, error) {
	return s.signals.GetSignal(ctx, assetID)
}

// UpsertEstimate validates and stores one asset's execution cost estimate.
func (s *SignalService) UpsertEstimate(ctx context.Context, assetID string, est domain.CostEstimate, ts time.Time) error {
	if assetID == "" {
		return fmt.Errorf("service: upsert estimate: empty asset id")
	}
	if est.GasUSD.IsNegative() || est.SlippageUSD.IsNegative() || est.TradingFeesUSD.IsNegative() {
		return fmt.Errorf("service: upsert estimate %s: negative cost", assetID)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := s.estimates.SetEstimate(ctx, assetID, est, ts); err != nil {
		return fmt.Errorf("service: upsert estimate %s: %w", assetID, err)
	}
	return nil
}
