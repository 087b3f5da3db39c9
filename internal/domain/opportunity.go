package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskTier is the coarse risk classification of a harvest candidate.
type RiskTier string

const (
	RiskTierLow    RiskTier = "LOW"
	RiskTierMedium RiskTier = "MEDIUM"
	RiskTierHigh   RiskTier = "HIGH"
)

// Recommendation classifies a candidate by its net economic benefit.
type Recommendation string

const (
	Recommended    Recommendation = "recommended"
	Marginal       Recommendation = "marginal"
	NotRecommended Recommendation = "not_recommended"
)

// GasGrade grades a whole harvest pass by average gas cost relative to the
// losses being harvested.
type GasGrade string

const (
	GasGradeA GasGrade = "A" // < 5%
	GasGradeB GasGrade = "B" // 5–15%
	GasGradeC GasGrade = "C" // > 15%
)

// EligibilityResult is the outcome of the composite eligibility gate for one
// valued lot. FailureReasons carries every failing predicate's reason in
// canonical order, not just the first.
type EligibilityResult struct {
	Eligible       bool     `json:"eligible"`
	FailureReasons []string `json:"failure_reasons,omitempty"`
}

// HarvestOpportunity is the final output unit of a computation pass. A new
// pass always produces new opportunity values rather than patching old ones,
// which keeps historical passes auditable.
type HarvestOpportunity struct {
	ID                  uuid.UUID       `json:"id"`
	RunID               uuid.UUID       `json:"run_id"`
	SourceLotID         uuid.UUID       `json:"source_lot_id"`
	AssetID             string          `json:"asset_id"`
	SourceID            string          `json:"source_id"`
	UnrealizedLossUSD   decimal.Decimal `json:"unrealized_loss_usd"` // always > 0
	GasEstimateUSD      decimal.Decimal `json:"gas_estimate_usd"`
	SlippageEstimateUSD decimal.Decimal `json:"slippage_estimate_usd"`
	TradingFeesUSD      decimal.Decimal `json:"trading_fees_usd"`
	TaxSavingsUSD       decimal.Decimal `json:"tax_savings_usd"`
	NetBenefitUSD       decimal.Decimal `json:"net_benefit_usd"`
	RiskTier            RiskTier        `json:"risk_tier"`
	Recommendation      Recommendation  `json:"recommendation"`
	Confidence          Confidence      `json:"confidence"`
	HoldingPeriodDays   int             `json:"holding_period_days"`
	IsLongTerm          bool            `json:"is_long_term"`
	Flags               []Flag          `json:"flags,omitempty"`
	ComputedAt          time.Time       `json:"computed_at"`
}

// Summary is the pure reduction over one pass's opportunity list.
type Summary struct {
	RunID                   uuid.UUID       `json:"run_id"`
	TotalHarvestableLossUSD decimal.Decimal `json:"total_harvestable_loss_usd"`
	TotalNetBenefitUSD      decimal.Decimal `json:"total_net_benefit_usd"`
	EligibleAssetCount      int             `json:"eligible_asset_count"`
	OpportunityCount        int             `json:"opportunity_count"`
	GasEfficiencyGrade      GasGrade        `json:"gas_efficiency_grade"`
	ComputedAt              time.Time       `json:"computed_at"`
}
