package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lossharvest/harvestd/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
// Every harvest pass writes a new run; prior runs are never overwritten.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// InsertRun writes a run's opportunities and its summary in one transaction
// so readers never observe a summary without its rows or vice versa.
func (s *OpportunityStore) InsertRun(ctx context.Context, userID string, opps []domain.HarvestOpportunity, summary domain.Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin run insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const summaryQuery = `
		INSERT INTO harvest_runs (
			run_id, user_id, total_harvestable_loss_usd, total_net_benefit_usd,
			eligible_asset_count, opportunity_count, gas_efficiency_grade, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := tx.Exec(ctx, summaryQuery,
		summary.RunID, userID, summary.TotalHarvestableLossUSD, summary.TotalNetBenefitUSD,
		summary.EligibleAssetCount, summary.OpportunityCount, string(summary.GasEfficiencyGrade), summary.ComputedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert run summary %s: %w", summary.RunID, err)
	}

	const oppQuery = `
		INSERT INTO harvest_opportunities (
			id, run_id, source_lot_id, asset_id, source_id,
			unrealized_loss_usd, gas_estimate_usd, slippage_estimate_usd, trading_fees_usd,
			tax_savings_usd, net_benefit_usd, risk_tier, recommendation, confidence,
			holding_period_days, is_long_term, flags, computed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18
		)`

	for _, o := range opps {
		flags, err := json.Marshal(o.Flags)
		if err != nil {
			return fmt.Errorf("postgres: marshal flags for %s: %w", o.ID, err)
		}
		if _, err := tx.Exec(ctx, oppQuery,
			o.ID, o.RunID, o.SourceLotID, o.AssetID, o.SourceID,
			o.UnrealizedLossUSD, o.GasEstimateUSD, o.SlippageEstimateUSD, o.TradingFeesUSD,
			o.TaxSavingsUSD, o.NetBenefitUSD, string(o.RiskTier), string(o.Recommendation), string(o.Confidence),
			o.HoldingPeriodDays, o.IsLongTerm, flags, o.ComputedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit run insert %s: %w", summary.RunID, err)
	}
	return nil
}

// ListByRun returns a run's opportunities ordered by net benefit descending,
// matching the engine's ranking.
func (s *OpportunityStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.HarvestOpportunity, error) {
	const query = `
		SELECT id, run_id, source_lot_id, asset_id, source_id,
			unrealized_loss_usd, gas_estimate_usd, slippage_estimate_usd, trading_fees_usd,
			tax_savings_usd, net_benefit_usd, risk_tier, recommendation, confidence,
			holding_period_days, is_long_term, flags, computed_at
		FROM harvest_opportunities
		WHERE run_id = $1
		ORDER BY net_benefit_usd DESC, asset_id ASC, source_lot_id ASC`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities for run %s: %w", runID, err)
	}
	defer rows.Close()

	var opps []domain.HarvestOpportunity
	for rows.Next() {
		var o domain.HarvestOpportunity
		var tier, rec, conf string
		var flags []byte
		if err := rows.Scan(
			&o.ID, &o.RunID, &o.SourceLotID, &o.AssetID, &o.SourceID,
			&o.UnrealizedLossUSD, &o.GasEstimateUSD, &o.SlippageEstimateUSD, &o.TradingFeesUSD,
			&o.TaxSavingsUSD, &o.NetBenefitUSD, &tier, &rec, &conf,
			&o.HoldingPeriodDays, &o.IsLongTerm, &flags, &o.ComputedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		o.RiskTier = domain.RiskTier(tier)
		o.Recommendation = domain.Recommendation(rec)
		o.Confidence = domain.Confidence(conf)
		if len(flags) > 0 {
			if err := json.Unmarshal(flags, &o.Flags); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal flags for %s: %w", o.ID, err)
			}
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

const summarySelect = `
	SELECT run_id, total_harvestable_loss_usd, total_net_benefit_usd,
		eligible_asset_count, opportunity_count, gas_efficiency_grade, computed_at
	FROM harvest_runs`

func scanSummary(row pgx.Row) (domain.Summary, error) {
	var sum domain.Summary
	var grade string
	err := row.Scan(
		&sum.RunID, &sum.TotalHarvestableLossUSD, &sum.TotalNetBenefitUSD,
		&sum.EligibleAssetCount, &sum.OpportunityCount, &grade, &sum.ComputedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Summary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Summary{}, err
	}
	sum.GasEfficiencyGrade = domain.GasGrade(grade)
	return sum, nil
}

// GetSummary returns the summary for one run, or domain.ErrNotFound.
func (s *OpportunityStore) GetSummary(ctx context.Context, runID uuid.UUID) (domain.Summary, error) {
	row := s.pool.QueryRow(ctx, summarySelect+` WHERE run_id = $1`, runID)
	sum, err := scanSummary(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Summary{}, fmt.Errorf("postgres: get summary %s: %w", runID, err)
	}
	return sum, err
}

// LatestRun returns the most recent run summary for a user, or
// domain.ErrNotFound when the user has no runs.
func (s *OpportunityStore) LatestRun(ctx context.Context, userID string) (domain.Summary, error) {
	row := s.pool.QueryRow(ctx,
		summarySelect+` WHERE user_id = $1 ORDER BY computed_at DESC LIMIT 1`, userID)
	sum, err := scanSummary(row)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Summary{}, fmt.Errorf("postgres: latest run for %s: %w", userID, err)
	}
	return sum, err
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
