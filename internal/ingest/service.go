package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lossharvest/harvestd/internal/domain"
)

// Options configures the ingestion service.
type Options struct {
	UserID           string
	Addresses        []string
	Chains           []string
	BackfillDays     int
	StreamLag        time.Duration
	RateLimitPerSec  int
	RetryBase        time.Duration
	RetryMax         time.Duration
	RetryMaxAttempts int
}

// Service runs provider-agnostic transfer ingestion: REST backfill up to the
// stream horizon, then live streaming, with failover to the fallback provider
// after repeated failures. The fallback is optional; without one the service
// keeps retrying the primary. Every accepted event becomes one or two
// append-only ledger transactions.
type Service struct {
	opts     Options
	primary  Provider
	fallback Provider
	store    domain.TransactionStore
	prices   domain.PriceCache
	limiter  domain.RateLimiter
	logger   *slog.Logger

	watched map[string]struct{}

	mu   sync.Mutex
	seen map[string]struct{}
	seq  int64
}

// NewService builds the ingestion service. It rejects invalid watch addresses
// up front rather than silently dropping their events later.
func NewService(opts Options, primary, fallback Provider, store domain.TransactionStore, prices domain.PriceCache, limiter domain.RateLimiter, logger *slog.Logger) (*Service, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("ingest: user id required")
	}
	if primary == nil {
		return nil, fmt.Errorf("ingest: primary provider required")
	}
	watched, invalid := normalizeAddresses(opts.Addresses)
	if len(invalid) > 0 {
		return nil, fmt.Errorf("ingest: invalid watch addresses %v", invalid)
	}
	if len(watched) == 0 {
		return nil, fmt.Errorf("ingest: no watch addresses")
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 500 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30 * time.Second
	}
	if opts.RetryMaxAttempts <= 0 {
		opts.RetryMaxAttempts = 5
	}
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 10
	}
	return &Service{
		opts:     opts,
		primary:  primary,
		fallback: fallback,
		store:    store,
		prices:   prices,
		limiter:  limiter,
		logger:   logger.With(slog.String("component", "ingest")),
		watched:  watched,
		seen:     make(map[string]struct{}),
	}, nil
}

// Run ingests every configured chain concurrently until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureSeq(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, chain := range s.opts.Chains {
		g.Go(func() error {
			return s.runChain(ctx, chain)
		})
	}
	return g.Wait()
}

// Submit ingests externally pushed transfer events, for example from a
// provider webhook. Events pass through the same dedup, normalization, and
// persistence path as streamed events. It returns the number of ledger
// transactions inserted.
func (s *Service) Submit(ctx context.Context, events []TransferEvent) (int, error) {
	if err := s.ensureSeq(ctx); err != nil {
		return 0, err
	}
	inserted := 0
	for _, e := range events {
		n, err := s.handleEvent(ctx, e)
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

// ensureSeq seeds the in-memory sequence counter from the store exactly once.
func (s *Service) ensureSeq(ctx context.Context) error {
	s.mu.Lock()
	ready := s.seq > 0
	s.mu.Unlock()
	if ready {
		return nil
	}
	seq, err := s.store.NextSeq(ctx, s.opts.UserID)
	if err != nil {
		return fmt.Errorf("ingest: next seq: %w", err)
	}
	s.mu.Lock()
	if s.seq == 0 {
		s.seq = seq
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) runChain(ctx context.Context, chain string) error {
	if err := s.backfill(ctx, chain); err != nil {
		s.logger.ErrorContext(ctx, "backfill failed",
			slog.String("chain", chain), slog.String("error", err.Error()))
	}
	return s.streamWithFailover(ctx, chain)
}

// backfill fetches history from the last stored watermark up to the stream
// horizon. The fallback provider is tried when the primary fails.
func (s *Service) backfill(ctx context.Context, chain string) error {
	now := time.Now().UTC()
	horizon := now.Add(-s.opts.StreamLag)

	since := now.AddDate(0, 0, -s.opts.BackfillDays)
	if last, err := s.store.LatestTimestamp(ctx, s.opts.UserID, chain); err == nil && last.After(since) {
		since = last
	}
	if !since.Before(horizon) {
		return nil
	}

	providers := []Provider{s.primary}
	if s.fallback != nil {
		providers = append(providers, s.fallback)
	}

	var lastErr error
	for _, p := range providers {
		var events []TransferEvent
		for _, addr := range s.opts.Addresses {
			evs, err := p.Backfill(ctx, chain, addr, since, horizon)
			if err != nil {
				lastErr = err
				events = nil
				break
			}
			events = append(events, evs...)
		}
		if lastErr != nil && len(events) == 0 {
			s.logger.WarnContext(ctx, "backfill provider failed",
				slog.String("chain", chain),
				slog.String("provider", p.Name()),
				slog.String("error", lastErr.Error()))
			lastErr = nil
			continue
		}

		accepted := 0
		for _, e := range events {
			n, err := s.handleEvent(ctx, e)
			if err != nil {
				return err
			}
			accepted += n
		}
		s.logger.InfoContext(ctx, "backfill done",
			slog.String("chain", chain),
			slog.String("provider", p.Name()),
			slog.Int("events", len(events)),
			slog.Int("accepted", accepted))
		return nil
	}
	return fmt.Errorf("ingest: backfill %s: all providers failed", chain)
}

// streamWithFailover consumes the primary provider's live stream, retrying
// with jittered exponential backoff and swapping to the fallback, when one is
// configured, after RetryMaxAttempts consecutive failures.
func (s *Service) streamWithFailover(ctx context.Context, chain string) error {
	active, standby := s.primary, s.fallback
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "stream connect",
			slog.String("chain", chain), slog.String("provider", active.Name()))

		err := s.consumeStream(ctx, chain, active)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}

		delay := jitterDelay(s.opts.RetryBase, attempt, s.opts.RetryMax)
		s.logger.ErrorContext(ctx, "stream error",
			slog.String("chain", chain),
			slog.String("provider", active.Name()),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		attempt++
		if attempt >= s.opts.RetryMaxAttempts {
			if standby == nil {
				// Single-provider deployment: keep retrying the only
				// provider at the capped backoff.
				attempt = s.opts.RetryMaxAttempts
				continue
			}
			s.logger.WarnContext(ctx, "stream failover",
				slog.String("chain", chain),
				slog.String("from", active.Name()),
				slog.String("to", standby.Name()))
			active, standby = standby, active
			attempt = 0
		}
	}
}

func (s *Service) consumeStream(ctx context.Context, chain string, p Provider) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan TransferEvent, 256)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Stream(streamCtx, chain, s.opts.Addresses, out)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case e := <-out:
			if _, err := s.handleEvent(ctx, e); err != nil {
				return err
			}
		}
	}
}

// handleEvent deduplicates, rate limits, normalizes, and persists one transfer
// event. It returns the number of ledger transactions inserted.
func (s *Service) handleEvent(ctx context.Context, e TransferEvent) (int, error) {
	key := eventKey(e)
	s.mu.Lock()
	if _, dup := s.seen[key]; dup {
		s.mu.Unlock()
		return 0, nil
	}
	s.seen[key] = struct{}{}
	s.mu.Unlock()

	if s.limiter != nil {
		for {
			allowed, err := s.limiter.Allow(ctx, "ingest:"+e.Provider, s.opts.RateLimitPerSec, time.Second)
			if err != nil {
				return 0, fmt.Errorf("ingest: rate limit: %w", err)
			}
			if allowed {
				break
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Second / time.Duration(s.opts.RateLimitPerSec)):
			}
		}
	}

	price := s.lookupPrice(ctx, e.Token)

	s.mu.Lock()
	txs := normalize(e, s.watched, price, &s.seq)
	s.mu.Unlock()
	if len(txs) == 0 {
		return 0, nil
	}

	inserted, err := s.store.InsertBatch(ctx, s.opts.UserID, txs)
	if err != nil {
		return 0, fmt.Errorf("ingest: insert %s: %w", e.TxHash, err)
	}
	return inserted, nil
}

// lookupPrice stamps the event's asset with the latest cached price, or zero
// when no price is known. A zero acquisition price surfaces later as reduced
// unrealized PnL rather than an ingest failure.
func (s *Service) lookupPrice(ctx context.Context, assetID string) decimal.Decimal {
	if s.prices == nil {
		return decimal.Zero
	}
	price, _, err := s.prices.GetPrice(ctx, assetID)
	if err != nil {
		return decimal.Zero
	}
	return price
}

// jitterDelay computes base*2^attempt plus uniform jitter, capped at max.
func jitterDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	d += time.Duration(rand.Int63n(int64(base) + 1))
	if d > max {
		d = max
	}
	return d
}
