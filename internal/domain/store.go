package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TransactionStore persists the append-only ledger event history. Events are
// never mutated after ingestion; InsertBatch skips duplicates.
type TransactionStore interface {
	InsertBatch(ctx context.Context, userID string, txs []Transaction) (inserted int, err error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Transaction, error)
	ListByAsset(ctx context.Context, userID, assetID string, opts ListOpts) ([]Transaction, error)
	LatestTimestamp(ctx context.Context, userID, sourceID string) (time.Time, error)
	NextSeq(ctx context.Context, userID string) (int64, error)
}

// OpportunityStore persists harvest pass results. Each pass writes a fresh
// run; prior runs are kept for audit.
type OpportunityStore interface {
	InsertRun(ctx context.Context, userID string, opps []HarvestOpportunity, summary Summary) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]HarvestOpportunity, error)
	GetSummary(ctx context.Context, runID uuid.UUID) (Summary, error)
	LatestRun(ctx context.Context, userID string) (Summary, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
