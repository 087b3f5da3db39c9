package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lossharvest/harvestd/internal/domain"
)

// SignalCache implements domain.SignalCache using Redis hashes. Each asset's
// signal is stored at key "signal:{assetID}" with a JSON "signal" field and a
// "ts" field (Unix nanosecond timestamp).
type SignalCache struct {
	rdb *redis.Client
}

// NewSignalCache creates a SignalCache backed by the given Client.
func NewSignalCache(c *Client) *SignalCache {
	return &SignalCache{rdb: c.Underlying()}
}

func signalKey(assetID string) string {
	return "signal:" + assetID
}

// SetSignal stores the latest risk signal and timestamp for an asset.
func (sc *SignalCache) SetSignal(ctx context.Context, assetID string, sig domain.RiskSignal, ts time.Time) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal %s: %w", assetID, err)
	}
	fields := map[string]interface{}{
		"signal": payload,
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := sc.rdb.HSet(ctx, signalKey(assetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set signal %s: %w", assetID, err)
	}
	return nil
}

// GetSignal retrieves the latest signal and timestamp for an asset.
// It returns domain.ErrNotFound when the key does not exist.
func (sc *SignalCache) GetSignal(ctx context.Context, assetID string) (domain.RiskSignal, time.Time, error) {
	vals, err := sc.rdb.HGetAll(ctx, signalKey(assetID)).Result()
	if err != nil {
		return domain.RiskSignal{}, time.Time{}, fmt.Errorf("redis: get signal %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return domain.RiskSignal{}, time.Time{}, domain.ErrNotFound
	}

	sig, ts, err := parseSignalFields(vals)
	if err != nil {
		return domain.RiskSignal{}, time.Time{}, fmt.Errorf("redis: get signal %s: %w", assetID, err)
	}
	return sig, ts, nil
}

// GetSignals retrieves signals for multiple assets using a pipeline. Assets
// with no stored signal are omitted from the snapshot.
func (sc *SignalCache) GetSignals(ctx context.Context, assetIDs []string) (domain.SignalSnapshot, error) {
	snap := make(domain.SignalSnapshot, len(assetIDs))
	if len(assetIDs) == 0 {
		return snap, nil
	}

	pipe := sc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, signalKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get signals pipeline: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		sig, _, err := parseSignalFields(vals)
		if err != nil {
			continue
		}
		snap[id] = sig
	}

	return snap, nil
}

func parseSignalFields(vals map[string]string) (domain.RiskSignal, time.Time, error) {
	raw, ok := vals["signal"]
	if !ok {
		return domain.RiskSignal{}, time.Time{}, domain.ErrNotFound
	}
	var sig domain.RiskSignal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return domain.RiskSignal{}, time.Time{}, fmt.Errorf("parse signal: %w", err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.RiskSignal{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.RiskSignal{}, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}

	return sig, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.SignalCache = (*SignalCache)(nil)
