package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lossharvest/harvestd/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// The transactions table is append-only: rows are inserted once and never
// updated, which is what makes ledger reconstruction replayable.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given
// connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id, user_id, seq, timestamp, kind, quantity,
	unit_price_usd, asset_id, source_id, transfer_inferred`

func scanTransactionRows(rows pgx.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var userID, kind string
		if err := rows.Scan(
			&t.ID, &userID, &t.Seq, &t.Timestamp, &kind,
			&t.Quantity, &t.UnitPriceUSD, &t.AssetID, &t.SourceID,
			&t.TransferInferred,
		); err != nil {
			return nil, err
		}
		t.Kind = domain.TransactionKind(kind)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// InsertBatch inserts transactions using a pgx Batch. Duplicates (same id)
// are silently skipped via ON CONFLICT DO NOTHING; the returned count is the
// number of rows actually inserted.
func (s *TransactionStore) InsertBatch(ctx context.Context, userID string, txs []domain.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO transactions (
			id, user_id, seq, timestamp, kind, quantity,
			unit_price_usd, asset_id, source_id, transfer_inferred
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		) ON CONFLICT (id) DO NOTHING`

	for _, t := range txs {
		batch.Queue(query,
			t.ID, userID, t.Seq, t.Timestamp, string(t.Kind), t.Quantity,
			t.UnitPriceUSD, t.AssetID, t.SourceID, t.TransferInferred,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range txs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert transaction batch item %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListByUser returns a user's transactions ordered by (timestamp, seq).
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	query, args = applyTimeRange(query, args, opts)
	query += " ORDER BY timestamp ASC, seq ASC"
	query, args = applyLimitOffset(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanTransactionRows(rows)
}

// ListByAsset returns a user's transactions for one asset ordered by
// (timestamp, seq).
func (s *TransactionStore) ListByAsset(ctx context.Context, userID, assetID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + txSelectCols + ` FROM transactions WHERE user_id = $1 AND asset_id = $2`
	args := []any{userID, assetID}
	query, args = applyTimeRange(query, args, opts)
	query += " ORDER BY timestamp ASC, seq ASC"
	query, args = applyLimitOffset(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %s/%s: %w", userID, assetID, err)
	}
	defer rows.Close()
	return scanTransactionRows(rows)
}

// LatestTimestamp returns the newest transaction timestamp for a
// (user, source) pair, used as the backfill watermark. It returns
// domain.ErrNotFound when the pair has no transactions yet.
func (s *TransactionStore) LatestTimestamp(ctx context.Context, userID, sourceID string) (time.Time, error) {
	const query = `
		SELECT timestamp FROM transactions
		WHERE user_id = $1 AND source_id = $2
		ORDER BY timestamp DESC, seq DESC LIMIT 1`

	var ts time.Time
	err := s.pool.QueryRow(ctx, query, userID, sourceID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: latest timestamp for %s/%s: %w", userID, sourceID, err)
	}
	return ts, nil
}

// NextSeq returns the next insertion-order sequence number for a user.
func (s *TransactionStore) NextSeq(ctx context.Context, userID string) (int64, error) {
	const query = `SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions WHERE user_id = $1`

	var seq int64
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: next seq for %s: %w", userID, err)
	}
	return seq, nil
}

// applyTimeRange appends Since/Until conditions to a WHERE clause.
func applyTimeRange(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	return query, args
}

// applyLimitOffset appends LIMIT/OFFSET when set.
func applyLimitOffset(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
