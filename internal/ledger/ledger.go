// Package ledger implements the staking ledger: reward accrual at stake
// time, a global reward reservation checked against the ledger's real
// reward-asset balance, and whole-position withdrawal.
//
// The ledger holds no state of its own. The host loads a State snapshot,
// passes it by exclusive reference into one operation and commits the
// snapshot afterwards. Every precondition is checked before the snapshot is
// written, and every snapshot write happens before any outgoing transfer.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/model"
)

// RewardDivisor is the fixed-point divisor of the reward rate.
const RewardDivisor = 1000

// MaxRewardRate is the largest accepted reward rate (a 100% yield).
const MaxRewardRate = RewardDivisor

// Assets is the asset-transfer capability the ledger consumes. Both the
// staking and the reward asset are served by the same implementation.
type Assets interface {
	BalanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *uint256.Int) error
}

// TransferPolicy decides what a failed outgoing or incoming transfer does
// to a call whose accounting has already been written.
type TransferPolicy string

const (
	// PolicyStrict restores the snapshot and fails the call.
	PolicyStrict TransferPolicy = "strict"

	// PolicyLenient logs the failure and keeps the accounting.
	PolicyLenient TransferPolicy = "lenient"
)

// ParseTransferPolicy parses a policy name. The empty string means strict.
func ParseTransferPolicy(s string) (TransferPolicy, error) {
	switch TransferPolicy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	}
	return "", fmt.Errorf("ledger: unknown transfer policy %q", s)
}

// State is the aggregate a single call operates on: the configuration with
// the reserved-rewards accumulator, and the positions of the users the call
// touches. Absent positions read as zero.
type State struct {
	Config    *model.Configuration
	Positions map[common.Address]*model.Position
}

// NewState builds a snapshot from a loaded configuration and positions.
func NewState(cfg *model.Configuration, positions ...*model.Position) *State {
	st := &State{
		Config:    cfg,
		Positions: make(map[common.Address]*model.Position, len(positions)),
	}
	for _, p := range positions {
		st.Positions[p.User] = p
	}
	return st
}

// Position returns the position of user, creating the zero position in the
// snapshot if the user has none.
func (s *State) Position(user common.Address) *model.Position {
	p, ok := s.Positions[user]
	if !ok {
		p = model.NewPosition(user)
		s.Positions[user] = p
	}
	return p
}

// Clone returns a deep copy of the snapshot.
func (s *State) Clone() *State {
	c := &State{
		Config:    s.Config.Clone(),
		Positions: make(map[common.Address]*model.Position, len(s.Positions)),
	}
	for user, p := range s.Positions {
		c.Positions[user] = p.Clone()
	}
	return c
}

// Initialize validates the setup parameters and returns a fresh snapshot
// with a zero reservation and no positions.
func Initialize(stakingAsset, rewardAsset common.Address, rewardRate *uint256.Int) (*State, error) {
	if stakingAsset == (common.Address{}) {
		return nil, ErrInvalidStakingAsset
	}
	if rewardAsset == (common.Address{}) {
		return nil, ErrInvalidRewardAsset
	}
	if rewardRate == nil || rewardRate.IsZero() || rewardRate.GtUint64(MaxRewardRate) {
		return nil, ErrInvalidRewardRate
	}
	return NewState(&model.Configuration{
		StakingAsset:         stakingAsset,
		RewardAsset:          rewardAsset,
		RewardRate:           rewardRate.Clone(),
		RewardDivisor:        uint256.NewInt(RewardDivisor),
		TotalReservedRewards: new(uint256.Int),
	}), nil
}

// Reward returns floor(amount * rate / divisor).
func Reward(amount, rate, divisor *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(amount, rate)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return product.Div(product, divisor), nil
}

// Ledger executes operations against a snapshot on behalf of the ledger
// account self.
type Ledger struct {
	self   common.Address
	assets Assets
	policy TransferPolicy

	// OnTransferFailure, if set, observes every failed transfer before the
	// policy is applied.
	OnTransferFailure func(op string, asset common.Address, err error)
}

// New creates a ledger bound to its own account address and an asset
// capability.
func New(self common.Address, assets Assets, policy TransferPolicy) *Ledger {
	if policy == "" {
		policy = PolicyStrict
	}
	return &Ledger{self: self, assets: assets, policy: policy}
}

// Address returns the ledger's own account address.
func (l *Ledger) Address() common.Address {
	return l.self
}

// Policy returns the configured transfer policy.
func (l *Ledger) Policy() TransferPolicy {
	return l.policy
}

// Stake deposits amount of the staking asset for staker, accruing
// floor(amount * rate / divisor) of the reward asset.
func (l *Ledger) Stake(ctx context.Context, st *State, staker common.Address, amount *uint256.Int) (*model.Event, error) {
	cfg := st.Config
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidStakeAmount
	}

	reward, err := Reward(amount, cfg.RewardRate, cfg.RewardDivisor)
	if err != nil {
		return nil, err
	}
	if reward.IsZero() {
		return nil, ErrZeroRewardGenerated
	}

	projected, overflow := new(uint256.Int).AddOverflow(cfg.TotalReservedRewards, reward)
	if overflow {
		return nil, ErrAmountOverflow
	}
	available, err := l.assets.BalanceOf(ctx, cfg.RewardAsset, l.self)
	if err != nil {
		return nil, fmt.Errorf("ledger: read reward balance: %w", err)
	}
	if projected.Gt(available) {
		return nil, &InsufficientRewardTokensError{
			Deficit: new(uint256.Int).Sub(projected, available),
		}
	}

	pos := st.Positions[staker]
	if pos == nil {
		pos = model.NewPosition(staker)
	}
	staked, overflow := new(uint256.Int).AddOverflow(pos.StakedBalance, amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	owed, overflow := new(uint256.Int).AddOverflow(pos.RewardBalance, reward)
	if overflow {
		return nil, ErrAmountOverflow
	}

	// Commit.
	before := st.Clone()
	cfg.TotalReservedRewards = projected
	pos = st.Position(staker)
	pos.StakedBalance = staked
	pos.RewardBalance = owed

	pull := l.assets.TransferFrom(ctx, cfg.StakingAsset, l.self, staker, l.self, amount)
	if err := l.settle(st, before, "stake", cfg.StakingAsset, pull); err != nil {
		return nil, err
	}

	return newEvent(model.EventStaked, staker, amount, reward), nil
}

// Unstake withdraws the whole position of staker: the owed reward and the
// staked principal. The reservation and the position are cleared before
// either transfer is made.
func (l *Ledger) Unstake(ctx context.Context, st *State, staker common.Address) (*model.Event, error) {
	cfg := st.Config
	pos := st.Positions[staker]
	if pos == nil || pos.StakedBalance.IsZero() {
		return nil, ErrNoActiveStake
	}
	if pos.RewardBalance.IsZero() {
		return nil, ErrNoOwedReward
	}
	stakedAmount := pos.StakedBalance.Clone()
	rewardOwed := pos.RewardBalance.Clone()

	available, err := l.assets.BalanceOf(ctx, cfg.RewardAsset, l.self)
	if err != nil {
		return nil, fmt.Errorf("ledger: read reward balance: %w", err)
	}
	if rewardOwed.Gt(available) || available.IsZero() {
		return nil, &InsufficientRewardTokensError{
			Deficit: new(uint256.Int).Sub(rewardOwed, available),
		}
	}

	reserved, underflow := new(uint256.Int).SubOverflow(cfg.TotalReservedRewards, rewardOwed)
	if underflow {
		return nil, fmt.Errorf("%w: reserve %s below owed reward %s",
			ErrAmountOverflow, cfg.TotalReservedRewards.Dec(), rewardOwed.Dec())
	}

	// Commit.
	before := st.Clone()
	cfg.TotalReservedRewards = reserved
	pos.StakedBalance = new(uint256.Int)
	pos.RewardBalance = new(uint256.Int)

	rewardAsset, stakingAsset := cfg.RewardAsset, cfg.StakingAsset
	paid := l.assets.Transfer(ctx, rewardAsset, l.self, staker, rewardOwed)
	if err := l.settle(st, before, "unstake", rewardAsset, paid); err != nil {
		return nil, err
	}
	returned := l.assets.Transfer(ctx, stakingAsset, l.self, staker, stakedAmount)
	if err := l.settle(st, before, "unstake", stakingAsset, returned); err != nil {
		return nil, err
	}

	return newEvent(model.EventUnstaked, staker, stakedAmount, rewardOwed), nil
}

// settle applies the transfer policy to the outcome of one transfer. Under
// the strict policy st is restored to before.
func (l *Ledger) settle(st, before *State, op string, asset common.Address, err error) error {
	if err == nil {
		return nil
	}
	if l.OnTransferFailure != nil {
		l.OnTransferFailure(op, asset, err)
	}
	if l.policy == PolicyLenient {
		slog.Warn("asset transfer failed, accounting kept",
			"op", op,
			"asset", asset.Hex(),
			"err", err,
		)
		return nil
	}
	*st = *before
	return fmt.Errorf("%w: %s %s: %w", ErrTransferFailed, op, asset.Hex(), err)
}

// QueryUserInfo returns the current position of user. Absent users read as
// zero.
func QueryUserInfo(st *State, user common.Address) model.UserInfo {
	info := model.UserInfo{
		RewardOwed:   new(uint256.Int),
		StakedAmount: new(uint256.Int),
		User:         user,
	}
	if p, ok := st.Positions[user]; ok {
		info.RewardOwed.Set(p.RewardBalance)
		info.StakedAmount.Set(p.StakedBalance)
	}
	return info
}

// Configuration returns a copy of the configuration and accounting.
func Configuration(st *State) *model.Configuration {
	return st.Config.Clone()
}

func newEvent(typ string, staker common.Address, amount, reward *uint256.Int) *model.Event {
	return &model.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Staker:    staker,
		Amount:    amount.Clone(),
		Reward:    reward.Clone(),
		Timestamp: time.Now().UTC(),
	}
}
