// Package ingest pulls transfer events from chain data providers, deduplicates
// and normalizes them into ledger transactions, and persists them. Providers
// are interchangeable: a primary streams and backfills, a fallback takes over
// after repeated failures.
package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransferEvent is one raw on-chain transfer as reported by a provider,
// before normalization into ledger transactions.
type TransferEvent struct {
	Timestamp time.Time
	TxHash    string
	FromAddr  string
	ToAddr    string
	Chain     string
	Token     string
	Amount    decimal.Decimal
	Provider  string
}

// Provider is a chain data source. Backfill fetches historical transfers over
// REST; Stream pushes live transfers into out until the context is cancelled.
type Provider interface {
	Name() string
	Backfill(ctx context.Context, chain, address string, since, until time.Time) ([]TransferEvent, error)
	Stream(ctx context.Context, chain string, addresses []string, out chan<- TransferEvent) error
}
