// Package redis implements storage.Store on Redis using go-redis/v9.
//
// Each market is a JSON string under "<prefix>market:<event_id>". A sorted
// set "<prefix>markets" with every score 0 indexes event IDs so listings can
// page lexicographically with ZRANGEBYLEX. Updates use WATCH/MULTI and are
// retried a bounded number of times when another writer touches the key.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/polyledger/internal/models"
	"github.com/rewired-gh/polyledger/internal/storage"
)

const maxTxRetries = 8

// ClientConfig holds connection parameters for the Redis store.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	TLSEnabled bool
}

// Store implements storage.Store backed by Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Store, pinging Redis to verify connectivity.
func New(ctx context.Context, cfg ClientConfig) (*Store, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Store{rdb: rdb, prefix: cfg.Prefix}, nil
}

func (s *Store) marketKey(eventID string) string { return s.prefix + "market:" + eventID }
func (s *Store) indexKey() string                { return s.prefix + "markets" }
func (s *Store) paramsKey() string               { return s.prefix + "params" }

func decodeMarket(raw string) (models.MarketState, error) {
	var m models.MarketState
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return models.MarketState{}, err
	}
	return m, nil
}

// GetMarket retrieves a market by event ID.
func (s *Store) GetMarket(ctx context.Context, eventID string) (models.MarketState, error) {
	raw, err := s.rdb.Get(ctx, s.marketKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.MarketState{}, fmt.Errorf("%w: %s", storage.ErrNotFound, eventID)
	}
	if err != nil {
		return models.MarketState{}, fmt.Errorf("redis: get market %s: %w", eventID, err)
	}
	m, err := decodeMarket(raw)
	if err != nil {
		return models.MarketState{}, fmt.Errorf("redis: decode market %s: %w", eventID, err)
	}
	return m, nil
}

// CreateMarket writes the market and its index entry in one transaction.
func (s *Store) CreateMarket(ctx context.Context, m models.MarketState) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid market: %w", err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: encode market %s: %w", m.EventID, err)
	}

	key := s.marketKey(m.EventID)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis: check market %s: %w", m.EventID, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", storage.ErrConflict, m.EventID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: m.EventID})
			return nil
		})
		return err
	})
}

// UpdateMarket applies fn under WATCH so a concurrent writer aborts the commit.
func (s *Store) UpdateMarket(ctx context.Context, eventID string, fn storage.UpdateFunc) error {
	key := s.marketKey(eventID)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, eventID)
		}
		if err != nil {
			return fmt.Errorf("redis: load market %s: %w", eventID, err)
		}

		m, err := decodeMarket(raw)
		if err != nil {
			return fmt.Errorf("redis: decode market %s: %w", eventID, err)
		}
		if err := fn(&m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid market: %w", err)
		}

		next, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: encode market %s: %w", eventID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	})
}

// watch runs fn as an optimistic transaction on key, retrying on contention.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: transaction on %s failed after %d retries", key, maxTxRetries)
}

// ListMarkets pages through the lexicographic index.
func (s *Store) ListMarkets(ctx context.Context, limit int, cursor string) ([]models.MarketState, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if cursor != "" {
		by.Min = "(" + cursor
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	ids, err := s.rdb.ZRangeByLex(ctx, s.indexKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list markets: %w", err)
	}
	if len(ids) == 0 {
		return []models.MarketState{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.marketKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load markets: %w", err)
	}

	markets := make([]models.MarketState, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index entry without a record
		}
		m, err := decodeMarket(raw)
		if err != nil {
			return nil, fmt.Errorf("redis: decode market %s: %w", ids[i], err)
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// GetParams returns the parameter register.
func (s *Store) GetParams(ctx context.Context) (models.GuardParams, bool, error) {
	raw, err := s.rdb.Get(ctx, s.paramsKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.GuardParams{}, false, nil
	}
	if err != nil {
		return models.GuardParams{}, false, fmt.Errorf("redis: get params: %w", err)
	}

	var p models.GuardParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.GuardParams{}, false, fmt.Errorf("redis: decode params: %w", err)
	}
	return p, true, nil
}

// PutParams replaces the parameter register.
func (s *Store) PutParams(ctx context.Context, p models.GuardParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode params: %w", err)
	}
	if err := s.rdb.Set(ctx, s.paramsKey(), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: put params: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

var _ storage.Store = (*Store)(nil)
