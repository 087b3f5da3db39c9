package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lossharvest/harvestd/internal/domain"
)

const (
	walletA = "0x00000000219ab540356cBB839Cbe05303d7705Fa"
	walletB = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	outside = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

type memStore struct {
	mu  sync.Mutex
	txs []domain.Transaction
}

func (m *memStore) InsertBatch(_ context.Context, _ string, txs []domain.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, tx := range txs {
		dup := false
		for _, have := range m.txs {
			if have.ID == tx.ID {
				dup = true
				break
			}
		}
		if !dup {
			m.txs = append(m.txs, tx)
			inserted++
		}
	}
	return inserted, nil
}

func (m *memStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Transaction(nil), m.txs...), nil
}

func (m *memStore) ListByAsset(context.Context, string, string, domain.ListOpts) ([]domain.Transaction, error) {
	return nil, nil
}

func (m *memStore) LatestTimestamp(context.Context, string, string) (time.Time, error) {
	return time.Time{}, domain.ErrNotFound
}

func (m *memStore) NextSeq(context.Context, string) (int64, error) { return 1, nil }

type scriptedProvider struct {
	name      string
	events    []TransferEvent
	streamErr error

	mu           sync.Mutex
	backfills    int
	streamCalls  int
	backfillFail bool
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Backfill(_ context.Context, _, _ string, _, _ time.Time) ([]TransferEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backfills++
	if p.backfillFail {
		return nil, errors.New("boom")
	}
	return p.events, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, _ string, _ []string, _ chan<- TransferEvent) error {
	p.mu.Lock()
	p.streamCalls++
	p.mu.Unlock()
	if p.streamErr != nil {
		return p.streamErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func event(hash, from, to string, amount int64) TransferEvent {
	return TransferEvent{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		TxHash:    hash,
		FromAddr:  from,
		ToAddr:    to,
		Chain:     "ethereum",
		Token:     "ETH",
		Amount:    decimal.NewFromInt(amount),
		Provider:  "alchemy",
	}
}

func newTestService(t *testing.T, store *memStore, primary, fallback Provider) *Service {
	t.Helper()
	svc, err := NewService(Options{
		UserID:           "user-1",
		Addresses:        []string{walletA, walletB},
		Chains:           []string{"ethereum"},
		BackfillDays:     7,
		RetryBase:        time.Millisecond,
		RetryMax:         5 * time.Millisecond,
		RetryMaxAttempts: 2,
	}, primary, fallback, store, nil, nil, testLogger())
	require.NoError(t, err)
	return svc
}

func TestNewService_RejectsInvalidAddresses(t *testing.T) {
	_, err := NewService(Options{
		UserID:    "user-1",
		Addresses: []string{"not-an-address"},
	}, &scriptedProvider{}, &scriptedProvider{}, &memStore{}, nil, nil, testLogger())
	assert.Error(t, err)
}

func TestNewService_RequiresPrimaryProvider(t *testing.T) {
	_, err := NewService(Options{
		UserID:    "user-1",
		Addresses: []string{walletA},
	}, nil, nil, &memStore{}, nil, nil, testLogger())
	assert.Error(t, err)
}

func TestHandleEvent_OutboundLeg(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, &scriptedProvider{name: "alchemy"}, &scriptedProvider{name: "moralis"})
	svc.seq = 1

	n, err := svc.handleEvent(context.Background(), event("0xaa", walletA, outside, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, store.txs, 1)
	tx := store.txs[0]
	assert.Equal(t, domain.KindTransferOut, tx.Kind)
	assert.Equal(t, "ETH", tx.AssetID)
	assert.Equal(t, "ethereum", tx.SourceID)
	assert.False(t, tx.TransferInferred)
	assert.True(t, decimal.NewFromInt(3).Equal(tx.Quantity))
}

func TestHandleEvent_InboundFromUnwatchedIsInferred(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, &scriptedProvider{name: "alchemy"}, &scriptedProvider{name: "moralis"})
	svc.seq = 1

	_, err := svc.handleEvent(context.Background(), event("0xbb", outside, walletA, 2))
	require.NoError(t, err)

	require.Len(t, store.txs, 1)
	assert.Equal(t, domain.KindTransferIn, store.txs[0].Kind)
	assert.True(t, store.txs[0].TransferInferred)
}

func TestHandleEvent_BetweenWatchedWalletsYieldsBothLegs(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, &scriptedProvider{name: "alchemy"}, &scriptedProvider{name: "moralis"})
	svc.seq = 1

	n, err := svc.handleEvent(context.Background(), event("0xcc", walletA, walletB, 5))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, store.txs, 2)
	assert.Equal(t, domain.KindTransferOut, store.txs[0].Kind)
	assert.Equal(t, domain.KindTransferIn, store.txs[1].Kind)
	// Neither leg is inferred when both sides are observed.
	assert.False(t, store.txs[0].TransferInferred)
	assert.False(t, store.txs[1].TransferInferred)
}

func TestHandleEvent_DeduplicatesByEventKey(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, &scriptedProvider{name: "alchemy"}, &scriptedProvider{name: "moralis"})
	svc.seq = 1

	e := event("0xdd", walletA, outside, 1)
	_, err := svc.handleEvent(context.Background(), e)
	require.NoError(t, err)
	n, err := svc.handleEvent(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, 0, n)
	assert.Len(t, store.txs, 1)
}

func TestHandleEvent_DedupSurvivesCaseDifferences(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, &scriptedProvider{name: "alchemy"}, &scriptedProvider{name: "moralis"})
	svc.seq = 1

	_, err := svc.handleEvent(context.Background(), event("0xEE", walletA, outside, 1))
	require.NoError(t, err)
	n, err := svc.handleEvent(context.Background(), event("0xee", walletA, outside, 1))
	require.NoError(t, err)

	assert.Equal(t, 0, n)
	assert.Len(t, store.txs, 1)
}

func TestHandleEvent_IgnoresUnwatchedTransfers(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, &scriptedProvider{name: "alchemy"}, &scriptedProvider{name: "moralis"})
	svc.seq = 1

	n, err := svc.handleEvent(context.Background(), event("0xff", outside, outside, 9))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, store.txs)
}

func TestBackfill_FallsBackWhenPrimaryFails(t *testing.T) {
	store := &memStore{}
	primary := &scriptedProvider{name: "alchemy", backfillFail: true}
	fallback := &scriptedProvider{
		name:   "moralis",
		events: []TransferEvent{event("0x01", walletA, outside, 4)},
	}
	svc := newTestService(t, store, primary, fallback)
	svc.seq = 1

	require.NoError(t, svc.backfill(context.Background(), "ethereum"))
	assert.Len(t, store.txs, 1)
	assert.Positive(t, primary.backfills)
	assert.Positive(t, fallback.backfills)
}

func TestBackfill_SingleProviderFailureReturnsError(t *testing.T) {
	store := &memStore{}
	primary := &scriptedProvider{name: "alchemy", backfillFail: true}
	svc := newTestService(t, store, primary, nil)
	svc.seq = 1

	err := svc.backfill(context.Background(), "ethereum")
	assert.ErrorContains(t, err, "all providers failed")
	assert.Empty(t, store.txs)
}

func TestStreamWithFailover_SingleProviderKeepsRetrying(t *testing.T) {
	store := &memStore{}
	primary := &scriptedProvider{name: "alchemy", streamErr: errors.New("dial refused")}
	svc := newTestService(t, store, primary, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := svc.streamWithFailover(ctx, "ethereum")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	primary.mu.Lock()
	calls := primary.streamCalls
	primary.mu.Unlock()

	// More reconnects than the failover threshold proves retries continue
	// past the point where a fallback would have taken over.
	assert.Greater(t, calls, 2)
}

func TestStreamWithFailover_SwitchesProviderAfterMaxAttempts(t *testing.T) {
	store := &memStore{}
	primary := &scriptedProvider{name: "alchemy", streamErr: errors.New("dial refused")}
	fallback := &scriptedProvider{name: "moralis"}
	svc := newTestService(t, store, primary, fallback)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := svc.streamWithFailover(ctx, "ethereum")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	primary.mu.Lock()
	primaryCalls := primary.streamCalls
	primary.mu.Unlock()
	fallback.mu.Lock()
	fallbackCalls := fallback.streamCalls
	fallback.mu.Unlock()

	assert.GreaterOrEqual(t, primaryCalls, 2)
	assert.GreaterOrEqual(t, fallbackCalls, 1)
}

func TestJitterDelay_CappedAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second
	for attempt := 0; attempt < 20; attempt++ {
		d := jitterDelay(base, attempt, max)
		assert.LessOrEqual(t, d, max)
		assert.Positive(t, d)
	}
}

func TestNormalize_DeterministicIDs(t *testing.T) {
	watched, invalid := normalizeAddresses([]string{walletA})
	require.Empty(t, invalid)

	seq1, seq2 := int64(1), int64(50)
	a := normalize(event("0x02", walletA, outside, 7), watched, decimal.Zero, &seq1)
	b := normalize(event("0x02", walletA, outside, 7), watched, decimal.Zero, &seq2)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}
