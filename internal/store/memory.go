package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/model"
)

type balanceKey struct {
	asset, holder common.Address
}

type allowanceKey struct {
	asset, owner, spender common.Address
}

// memData is the committed state of a MemoryStore.
type memData struct {
	config     *model.Configuration
	positions  map[common.Address]*model.Position
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	events     []model.Event
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			positions:  make(map[common.Address]*model.Position),
			balances:   make(map[balanceKey]*uint256.Int),
			allowances: make(map[allowanceKey]*uint256.Int),
		},
	}
}

// WithTx holds the write lock for the whole transaction. Writes are
// buffered in the transaction and merged on success.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s.data)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetConfiguration(ctx context.Context) (*model.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).GetConfiguration(ctx)
}

func (s *MemoryStore) GetPosition(ctx context.Context, user common.Address) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).GetPosition(ctx, user)
}

func (s *MemoryStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).ListPositions(ctx)
}

func (s *MemoryStore) GetBalance(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).GetBalance(ctx, asset, holder)
}

func (s *MemoryStore) GetAllowance(ctx context.Context, asset, owner, spender common.Address) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).GetAllowance(ctx, asset, owner, spender)
}

func (s *MemoryStore) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).ListEvents(ctx, limit)
}

func (s *MemoryStore) ListEventsByUser(ctx context.Context, user common.Address) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemTx(s.data).ListEventsByUser(ctx, user)
}

// memTx overlays buffered writes on the committed data.
type memTx struct {
	base       *memData
	config     *model.Configuration
	positions  map[common.Address]*model.Position
	balances   map[balanceKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	events     []model.Event
}

func newMemTx(base *memData) *memTx {
	return &memTx{
		base:       base,
		positions:  make(map[common.Address]*model.Position),
		balances:   make(map[balanceKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (t *memTx) commit() {
	if t.config != nil {
		t.base.config = t.config
	}
	for k, v := range t.positions {
		t.base.positions[k] = v
	}
	for k, v := range t.balances {
		t.base.balances[k] = v
	}
	for k, v := range t.allowances {
		t.base.allowances[k] = v
	}
	t.base.events = append(t.base.events, t.events...)
}

func (t *memTx) GetConfiguration(_ context.Context) (*model.Configuration, error) {
	cfg := t.config
	if cfg == nil {
		cfg = t.base.config
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration: %w", ErrNotFound)
	}
	return cfg.Clone(), nil
}

func (t *memTx) PutConfiguration(_ context.Context, cfg *model.Configuration) error {
	t.config = cfg.Clone()
	return nil
}

func (t *memTx) position(user common.Address) (*model.Position, bool) {
	if p, ok := t.positions[user]; ok {
		return p, true
	}
	p, ok := t.base.positions[user]
	return p, ok
}

func (t *memTx) GetPosition(_ context.Context, user common.Address) (*model.Position, error) {
	if p, ok := t.position(user); ok {
		return p.Clone(), nil
	}
	return model.NewPosition(user), nil
}

func (t *memTx) PutPosition(_ context.Context, p *model.Position) error {
	t.positions[p.User] = p.Clone()
	return nil
}

func (t *memTx) ListPositions(_ context.Context) ([]model.Position, error) {
	merged := make(map[common.Address]*model.Position, len(t.base.positions))
	for k, v := range t.base.positions {
		merged[k] = v
	}
	for k, v := range t.positions {
		merged[k] = v
	}
	positions := make([]model.Position, 0, len(merged))
	for _, p := range merged {
		positions = append(positions, *p.Clone())
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].User.Cmp(positions[j].User) < 0
	})
	return positions, nil
}

func (t *memTx) GetBalance(_ context.Context, asset, holder common.Address) (*uint256.Int, error) {
	k := balanceKey{asset, holder}
	if v, ok := t.balances[k]; ok {
		return v.Clone(), nil
	}
	if v, ok := t.base.balances[k]; ok {
		return v.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (t *memTx) SetBalance(_ context.Context, asset, holder common.Address, amount *uint256.Int) error {
	t.balances[balanceKey{asset, holder}] = amount.Clone()
	return nil
}

func (t *memTx) GetAllowance(_ context.Context, asset, owner, spender common.Address) (*uint256.Int, error) {
	k := allowanceKey{asset, owner, spender}
	if v, ok := t.allowances[k]; ok {
		return v.Clone(), nil
	}
	if v, ok := t.base.allowances[k]; ok {
		return v.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (t *memTx) SetAllowance(_ context.Context, asset, owner, spender common.Address, amount *uint256.Int) error {
	t.allowances[allowanceKey{asset, owner, spender}] = amount.Clone()
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, e *model.Event) error {
	t.events = append(t.events, *e)
	return nil
}

func (t *memTx) allEvents() []model.Event {
	all := make([]model.Event, 0, len(t.base.events)+len(t.events))
	all = append(all, t.base.events...)
	return append(all, t.events...)
}

func (t *memTx) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	all := t.allEvents()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (t *memTx) ListEventsByUser(_ context.Context, user common.Address) ([]model.Event, error) {
	var result []model.Event
	for _, e := range t.allEvents() {
		if e.Staker == user {
			result = append(result, e)
		}
	}
	return result, nil
}
