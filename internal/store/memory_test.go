package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/staking-ledger/internal/model"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	st    = common.HexToAddress("0x5a")
)

func testConfig() *model.Configuration {
	return &model.Configuration{
		StakingAsset:         st,
		RewardAsset:          common.HexToAddress("0x7e"),
		RewardRate:           uint256.NewInt(100),
		RewardDivisor:        uint256.NewInt(1000),
		TotalReservedRewards: uint256.NewInt(0),
	}
}

func TestMemoryStore_EmptyReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetConfiguration(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := s.GetPosition(ctx, alice)
	require.NoError(t, err)
	assert.True(t, p.IsZero())
	assert.Equal(t, alice, p.User)

	bal, err := s.GetBalance(ctx, st, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestMemoryStore_CommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.PutConfiguration(ctx, testConfig()))
		require.NoError(t, tx.PutPosition(ctx, &model.Position{
			User: alice, StakedBalance: uint256.NewInt(1000), RewardBalance: uint256.NewInt(100),
		}))
		require.NoError(t, tx.SetBalance(ctx, st, alice, uint256.NewInt(5)))
		require.NoError(t, tx.SetAllowance(ctx, st, alice, bob, uint256.NewInt(7)))
		require.NoError(t, tx.InsertEvent(ctx, &model.Event{ID: "e1", Type: model.EventStaked, Staker: alice, Timestamp: time.Now()}))

		// Reads inside the transaction see its own writes.
		p, err := tx.GetPosition(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), p.StakedBalance.Uint64())
		return nil
	})
	require.NoError(t, err)

	cfg, err := s.GetConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cfg.RewardRate.Uint64())

	p, err := s.GetPosition(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p.RewardBalance.Uint64())

	allowance, err := s.GetAllowance(ctx, st, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), allowance.Uint64())

	events, err := s.ListEventsByUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.PutConfiguration(ctx, testConfig()))
		require.NoError(t, tx.SetBalance(ctx, st, alice, uint256.NewInt(5)))
		require.NoError(t, tx.InsertEvent(ctx, &model.Event{ID: "e1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetConfiguration(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	bal, err := s.GetBalance(ctx, st, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	events, err := s.ListEvents(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.PutConfiguration(ctx, testConfig())
	}))

	cfg, err := s.GetConfiguration(ctx)
	require.NoError(t, err)
	cfg.TotalReservedRewards.SetUint64(999)

	again, err := s.GetConfiguration(ctx)
	require.NoError(t, err)
	assert.True(t, again.TotalReservedRewards.IsZero())
}

func TestMemoryStore_ListPositionsAndEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for i, user := range []common.Address{bob, alice} {
			if err := tx.PutPosition(ctx, &model.Position{
				User: user, StakedBalance: uint256.NewInt(uint64(i + 1)), RewardBalance: uint256.NewInt(1),
			}); err != nil {
				return err
			}
		}
		for _, id := range []string{"a", "b", "c"} {
			if err := tx.InsertEvent(ctx, &model.Event{ID: id, Staker: bob}); err != nil {
				return err
			}
		}
		return nil
	}))

	positions, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	// Sorted by address.
	assert.Equal(t, bob, positions[0].User)

	events, err := s.ListEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
	assert.Equal(t, "c", events[1].ID)
}
