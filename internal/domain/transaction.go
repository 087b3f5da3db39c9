// Package domain defines the core value objects, errors, and store/cache
// interfaces shared by every layer of the harvest engine. All monetary and
// quantity arithmetic uses shopspring/decimal so that identical inputs always
// produce bit-identical outputs, which the compliance exports depend on.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies a ledger event.
type TransactionKind string

const (
	KindAcquire     TransactionKind = "acquire"
	KindDispose     TransactionKind = "dispose"
	KindTransferIn  TransactionKind = "transfer_in"
	KindTransferOut TransactionKind = "transfer_out"
)

// AddsLot reports whether the kind opens a new cost-basis lot.
func (k TransactionKind) AddsLot() bool {
	return k == KindAcquire || k == KindTransferIn
}

// ConsumesLots reports whether the kind consumes open lots oldest-first.
func (k TransactionKind) ConsumesLots() bool {
	return k == KindDispose || k == KindTransferOut
}

// Transaction is an immutable, append-only ledger event. Ordering within a
// (asset, source) partition is by Timestamp with Seq breaking ties, so replays
// of the same history are always deterministic.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	Seq          int64           `json:"seq"` // original insertion order
	Timestamp    time.Time       `json:"timestamp"`
	Kind         TransactionKind `json:"kind"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd"`
	AssetID      string          `json:"asset_id"`
	SourceID     string          `json:"source_id"`

	// TransferInferred marks a cross-wallet transfer whose counter-leg was
	// never observed; the leg is kept rather than rejected.
	TransferInferred bool `json:"transfer_inferred,omitempty"`
}

// Validate checks the transaction against the input contract. It returns an
// *InvalidTransactionError so the caller can isolate the failure to the
// affected partition.
func (t Transaction) Validate() error {
	reject := func(reason string) error {
		return &InvalidTransactionError{
			Seq:      t.Seq,
			AssetID:  t.AssetID,
			SourceID: t.SourceID,
			Reason:   reason,
		}
	}

	switch t.Kind {
	case KindAcquire, KindDispose, KindTransferIn, KindTransferOut:
	default:
		return reject("unknown kind " + string(t.Kind))
	}
	if t.AssetID == "" {
		return reject("empty asset_id")
	}
	if t.SourceID == "" {
		return reject("empty source_id")
	}
	if t.Timestamp.IsZero() {
		return reject("zero timestamp")
	}
	if !t.Quantity.IsPositive() {
		return reject("quantity must be positive")
	}
	if t.UnitPriceUSD.IsNegative() {
		return reject("unit price must not be negative")
	}
	return nil
}

// PartitionKey identifies the (asset, source) partition a transaction belongs
// to. Reconstruction and failure isolation both operate per partition.
type PartitionKey struct {
	AssetID  string
	SourceID string
}

// Partition returns the transaction's partition key.
func (t Transaction) Partition() PartitionKey {
	return PartitionKey{AssetID: t.AssetID, SourceID: t.SourceID}
}
