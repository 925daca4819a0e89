package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/staking-ledger/internal/model"
)

// invalidateDelay is how long after a commit the touched keys are deleted
// a second time.
const invalidateDelay = 500 * time.Millisecond

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store inside its transaction and the
// touched keys are invalidated once it commits; reads check Redis first
// then fall back to the primary.
//
// Entries are not versioned. A reader that missed the cache before a commit
// can store the old value after the first delete; the second delete after
// invalidateDelay clears it. A reader slower than that still serves stale
// data until the TTL expires. Ledger calls read through the transaction and
// never see the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	delay   time.Duration
	del     func(ctx context.Context, keys ...string)
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		delay:   invalidateDelay,
		del: func(ctx context.Context, keys ...string) {
			rdb.Del(ctx, keys...)
		},
	}
}

// --- Transactions (write to primary, invalidate on commit) ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.del(ctx, touched...)
		time.AfterFunc(s.delay, func() {
			s.del(context.Background(), touched...)
		})
	}
	return nil
}

// cachedTx records which cache keys a transaction wrote.
type cachedTx struct {
	Tx
	touched *[]string
}

func (t *cachedTx) PutConfiguration(ctx context.Context, cfg *model.Configuration) error {
	*t.touched = append(*t.touched, configKey())
	return t.Tx.PutConfiguration(ctx, cfg)
}

func (t *cachedTx) PutPosition(ctx context.Context, p *model.Position) error {
	*t.touched = append(*t.touched, positionKey(p.User))
	return t.Tx.PutPosition(ctx, p)
}

func (t *cachedTx) SetBalance(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error {
	*t.touched = append(*t.touched, balanceCacheKey(asset, holder))
	return t.Tx.SetBalance(ctx, asset, holder, amount)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetConfiguration(ctx context.Context) (*model.Configuration, error) {
	data, err := s.rdb.Get(ctx, configKey()).Bytes()
	if err == nil {
		var cfg model.Configuration
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	// Cache miss: read from primary. ErrNotFound is not cached.
	cfg, err := s.primary.GetConfiguration(ctx)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, configKey(), cfg)
	return cfg, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, user common.Address) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(user)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, user)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, positionKey(user), p)
	return p, nil
}

func (s *CachedStore) GetBalance(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	key := balanceCacheKey(asset, holder)
	if dec, err := s.rdb.Get(ctx, key).Result(); err == nil {
		if v, err := uint256.FromDecimal(dec); err == nil {
			return v, nil
		}
	}

	v, err := s.primary.GetBalance(ctx, asset, holder)
	if err != nil {
		return nil, err
	}

	s.rdb.Set(ctx, key, v.Dec(), s.ttl)
	return v, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListPositions(ctx)
}

func (s *CachedStore) GetAllowance(ctx context.Context, asset, owner, spender common.Address) (*uint256.Int, error) {
	return s.primary.GetAllowance(ctx, asset, owner, spender)
}

func (s *CachedStore) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, limit)
}

func (s *CachedStore) ListEventsByUser(ctx context.Context, user common.Address) ([]model.Event, error) {
	return s.primary.ListEventsByUser(ctx, user)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func configKey() string                   { return "ledger:config" }
func positionKey(u common.Address) string { return fmt.Sprintf("position:%s", u.Hex()) }
func balanceCacheKey(asset, holder common.Address) string {
	return fmt.Sprintf("balance:%s:%s", asset.Hex(), holder.Hex())
}
