// Package asset implements the fungible-asset bank the staking ledger moves
// funds through: balances, allowances, transfer, transferFrom, approve and
// mint, for every asset listed in a Registry.
//
// The bank keeps no state; balances and allowances live in a Storage, which
// the host binds to the same transaction as the ledger's own state.
package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/model"
)

var (
	ErrUnknownAsset          = errors.New("asset: unknown asset")
	ErrDuplicateAsset        = errors.New("asset: duplicate asset")
	ErrZeroAddress           = errors.New("asset: zero address")
	ErrInsufficientBalance   = errors.New("asset: insufficient balance")
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
	ErrBalanceOverflow       = errors.New("asset: balance overflow")
	ErrInvalidDecimals       = errors.New("asset: decimals must be in [0, 77]")
)

// Storage persists balances and allowances. Missing entries read as zero.
type Storage interface {
	GetBalance(ctx context.Context, asset, holder common.Address) (*uint256.Int, error)
	SetBalance(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error
	GetAllowance(ctx context.Context, asset, owner, spender common.Address) (*uint256.Int, error)
	SetAllowance(ctx context.Context, asset, owner, spender common.Address, amount *uint256.Int) error
}

// Registry is the set of assets the bank serves.
type Registry struct {
	assets map[common.Address]model.Asset
	order  []common.Address
}

// NewRegistry validates and indexes the given assets.
func NewRegistry(assets ...model.Asset) (*Registry, error) {
	r := &Registry{assets: make(map[common.Address]model.Asset, len(assets))}
	for _, a := range assets {
		if a.Address == (common.Address{}) {
			return nil, fmt.Errorf("%w: asset %q", ErrZeroAddress, a.Symbol)
		}
		// 10^78 no longer fits in 256 bits.
		if a.Decimals < 0 || a.Decimals > 77 {
			return nil, fmt.Errorf("%w: asset %q has %d", ErrInvalidDecimals, a.Symbol, a.Decimals)
		}
		if _, ok := r.assets[a.Address]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, a.Address.Hex())
		}
		r.assets[a.Address] = a
		r.order = append(r.order, a.Address)
	}
	return r, nil
}

// Lookup returns the asset registered at addr.
func (r *Registry) Lookup(addr common.Address) (model.Asset, error) {
	a, ok := r.assets[addr]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex())
	}
	return a, nil
}

// List returns the registered assets in registration order.
func (r *Registry) List() []model.Asset {
	out := make([]model.Asset, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.assets[addr])
	}
	return out
}

// Bank applies ERC-20 style rules on top of a Storage.
type Bank struct {
	registry *Registry
	storage  Storage
}

// NewBank creates a bank over storage.
func NewBank(registry *Registry, storage Storage) *Bank {
	return &Bank{registry: registry, storage: storage}
}

// BalanceOf returns how much of asset holder possesses.
func (b *Bank) BalanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	if _, err := b.registry.Lookup(asset); err != nil {
		return nil, err
	}
	return b.storage.GetBalance(ctx, asset, holder)
}

// Allowance returns how much of owner's asset spender may pull.
func (b *Bank) Allowance(ctx context.Context, asset, owner, spender common.Address) (*uint256.Int, error) {
	if _, err := b.registry.Lookup(asset); err != nil {
		return nil, err
	}
	return b.storage.GetAllowance(ctx, asset, owner, spender)
}

// Transfer moves amount of asset from one holder to another.
func (b *Bank) Transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	if _, err := b.registry.Lookup(asset); err != nil {
		return err
	}
	return b.move(ctx, asset, from, to, amount)
}

// TransferFrom moves amount of asset from one holder to another on behalf
// of spender, consuming spender's allowance.
func (b *Bank) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *uint256.Int) error {
	if _, err := b.registry.Lookup(asset); err != nil {
		return err
	}
	allowance, err := b.storage.GetAllowance(ctx, asset, from, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s allowed %s, need %s",
			ErrInsufficientAllowance, spender.Hex(), allowance.Dec(), amount.Dec())
	}
	if err := b.move(ctx, asset, from, to, amount); err != nil {
		return err
	}
	return b.storage.SetAllowance(ctx, asset, from, spender, new(uint256.Int).Sub(allowance, amount))
}

// Approve sets the amount of owner's asset that spender may pull.
func (b *Bank) Approve(ctx context.Context, asset, owner, spender common.Address, amount *uint256.Int) error {
	if _, err := b.registry.Lookup(asset); err != nil {
		return err
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	return b.storage.SetAllowance(ctx, asset, owner, spender, amount.Clone())
}

// Mint credits amount of asset to holder.
func (b *Bank) Mint(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	if _, err := b.registry.Lookup(asset); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	return b.credit(ctx, asset, to, amount)
}

func (b *Bank) move(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBal, err := b.storage.GetBalance(ctx, asset, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, need %s",
			ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := b.storage.GetBalance(ctx, asset, to)
	if err != nil {
		return err
	}
	// Both sides are checked before either is written.
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := b.storage.SetBalance(ctx, asset, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return b.storage.SetBalance(ctx, asset, to, sum)
}

func (b *Bank) credit(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	toBal, err := b.storage.GetBalance(ctx, asset, to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return b.storage.SetBalance(ctx, asset, to, sum)
}
