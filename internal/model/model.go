// Package model defines the core domain types shared across the staking
// ledger. All amounts are base-unit integers held in uint256, never
// float64 for money.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event types appended to the event log.
const (
	EventStaked   = "staked"
	EventUnstaked = "unstaked"
)

// Configuration is the ledger's global configuration plus its single
// global accumulator. Everything except TotalReservedRewards is immutable
// after initialization.
type Configuration struct {
	StakingAsset         common.Address `json:"staking_asset"`
	RewardAsset          common.Address `json:"reward_asset"`
	RewardRate           *uint256.Int   `json:"reward_rate"`
	RewardDivisor        *uint256.Int   `json:"reward_divisor"`
	TotalReservedRewards *uint256.Int   `json:"total_reserved_rewards"`
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	return &Configuration{
		StakingAsset:         c.StakingAsset,
		RewardAsset:          c.RewardAsset,
		RewardRate:           c.RewardRate.Clone(),
		RewardDivisor:        c.RewardDivisor.Clone(),
		TotalReservedRewards: c.TotalReservedRewards.Clone(),
	}
}

// Position is one user's (stakedBalance, rewardBalance) pair. Both are
// zero or both are non-zero.
type Position struct {
	User          common.Address `json:"user"`
	StakedBalance *uint256.Int   `json:"staked_balance"`
	RewardBalance *uint256.Int   `json:"reward_balance"`
}

// NewPosition returns the implicit zero position of user.
func NewPosition(user common.Address) *Position {
	return &Position{
		User:          user,
		StakedBalance: new(uint256.Int),
		RewardBalance: new(uint256.Int),
	}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	return &Position{
		User:          p.User,
		StakedBalance: p.StakedBalance.Clone(),
		RewardBalance: p.RewardBalance.Clone(),
	}
}

// IsZero reports whether the position holds nothing.
func (p *Position) IsZero() bool {
	return p.StakedBalance.IsZero() && p.RewardBalance.IsZero()
}

// UserInfo is the read model returned by queryUserInfo.
type UserInfo struct {
	RewardOwed   *uint256.Int   `json:"reward_owed"`
	StakedAmount *uint256.Int   `json:"staked_amount"`
	User         common.Address `json:"user"`
}

// Event is an append-only record of a Staked or Unstaked emission.
// Reward is the accrued reward for "staked" and the paid reward for
// "unstaked".
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Staker    common.Address `json:"staker"`
	Amount    *uint256.Int   `json:"amount"`
	Reward    *uint256.Int   `json:"reward"`
	Timestamp time.Time      `json:"timestamp"`
}

// Asset describes one fungible asset known to the asset bank.
type Asset struct {
	Address  common.Address `json:"address" yaml:"address"`
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Decimals int32          `json:"decimals" yaml:"decimals"`
}

// AuditReport is a point-in-time solvency check of the ledger.
type AuditReport struct {
	Timestamp            time.Time    `json:"timestamp"`
	TotalReservedRewards *uint256.Int `json:"total_reserved_rewards"`
	SumRewardBalances    *uint256.Int `json:"sum_reward_balances"`
	SumStakedBalances    *uint256.Int `json:"sum_staked_balances"`
	RewardPoolBalance    *uint256.Int `json:"reward_pool_balance"`
	Positions            int          `json:"positions"`
	Violations           []string     `json:"violations"`
}

// Healthy reports whether the audit found no violations.
func (r *AuditReport) Healthy() bool {
	return len(r.Violations) == 0
}
