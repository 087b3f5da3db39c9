package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is a surviving (or partially consumed) acquisition. Lots are value
// objects: created only by acquire/transfer-in events, decremented oldest-first
// by dispose/transfer-out events, and never re-incremented.
//
// Invariant: 0 <= RemainingQuantity <= AcquiredQuantity.
type Lot struct {
	LotID                uuid.UUID       `json:"lot_id"`
	AssetID              string          `json:"asset_id"`
	SourceID             string          `json:"source_id"`
	AcquiredAt           time.Time       `json:"acquired_at"`
	AcquiredQuantity     decimal.Decimal `json:"acquired_quantity"`
	AcquiredUnitPriceUSD decimal.Decimal `json:"acquired_unit_price_usd"`
	RemainingQuantity    decimal.Decimal `json:"remaining_quantity"`
	Flags                []Flag          `json:"flags,omitempty"`
}

// CheckInvariant verifies the remaining-quantity bounds. A violation indicates
// a bug in the reconstructor, not bad input.
func (l Lot) CheckInvariant() bool {
	return !l.RemainingQuantity.IsNegative() &&
		l.RemainingQuantity.LessThanOrEqual(l.AcquiredQuantity)
}

// ValuedLot enriches a Lot with a price-snapshot valuation. It is derived and
// recomputed on every valuation pass, never persisted on its own.
type ValuedLot struct {
	Lot

	CurrentUnitPriceUSD decimal.Decimal `json:"current_unit_price_usd"`
	UnrealizedPnLUSD    decimal.Decimal `json:"unrealized_pnl_usd"`
	HoldingPeriodDays   int             `json:"holding_period_days"`
	IsLongTerm          bool            `json:"is_long_term"`
}
