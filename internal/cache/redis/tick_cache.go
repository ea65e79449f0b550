package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// TickCache implements domain.TickCache with one hash per symbol at
// "tick:{symbol}". Keys expire after ttl so symbols that stop quoting age out.
type TickCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewTickCache creates a TickCache. A zero ttl keeps keys forever.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	return &TickCache{rdb: c.Underlying(), ttl: ttl}
}

func tickKey(symbol string) string {
	return "tick:" + symbol
}

func tickFields(t domain.Tick) map[string]any {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]any{
		"active_id": strconv.FormatInt(t.ActiveID, 10),
		"time":      strconv.FormatInt(t.Time, 10),
		"bid":       f(t.Bid),
		"ask":       f(t.Ask),
		"value":     f(t.Value),
		"volume":    f(t.Volume),
	}
}

// SetTick stores t as the latest tick for its symbol.
func (tc *TickCache) SetTick(ctx context.Context, t domain.Tick) error {
	key := tickKey(t.Symbol)
	_, err := tc.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, tickFields(t))
		if tc.ttl > 0 {
			pipe.Expire(ctx, key, tc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set tick %s: %w", t.Symbol, err)
	}
	return nil
}

// GetTick returns the mirrored tick for symbol, or domain.ErrNotFound.
func (tc *TickCache) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	vals, err := tc.rdb.HGetAll(ctx, tickKey(symbol)).Result()
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: get tick %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Tick{}, domain.ErrNotFound
	}
	t, err := parseTick(symbol, vals)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse tick %s: %w", symbol, err)
	}
	return t, nil
}

func parseTick(symbol string, vals map[string]string) (domain.Tick, error) {
	t := domain.Tick{Symbol: symbol}
	var err error
	if t.ActiveID, err = strconv.ParseInt(vals["active_id"], 10, 64); err != nil {
		return t, err
	}
	if t.Time, err = strconv.ParseInt(vals["time"], 10, 64); err != nil {
		return t, err
	}
	for name, dst := range map[string]*float64{
		"bid":    &t.Bid,
		"ask":    &t.Ask,
		"value":  &t.Value,
		"volume": &t.Volume,
	} {
		if *dst, err = strconv.ParseFloat(vals[name], 64); err != nil {
			return t, fmt.Errorf("%s: %w", name, err)
		}
	}
	return t, nil
}

// Compile-time interface check.
var _ domain.TickCache = (*TickCache)(nil)
