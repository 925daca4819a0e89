// Package store defines the persistence interface for the staking ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every state-changing call runs inside WithTx: the ledger configuration,
// positions, asset balances and the event log are committed together or
// not at all.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/model"
)

// ErrNotFound is returned when a singleton record (the configuration) does
// not exist yet.
var ErrNotFound = errors.New("store: not found")

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	// GetConfiguration returns the ledger configuration or ErrNotFound.
	GetConfiguration(ctx context.Context) (*model.Configuration, error)

	// GetPosition returns the user's position; absent users read as zero.
	GetPosition(ctx context.Context, user common.Address) (*model.Position, error)

	// ListPositions returns every stored position, including zeroed ones.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// GetBalance returns a holder's balance of an asset; missing reads as zero.
	GetBalance(ctx context.Context, asset, holder common.Address) (*uint256.Int, error)

	// GetAllowance returns owner's allowance to spender; missing reads as zero.
	GetAllowance(ctx context.Context, asset, owner, spender common.Address) (*uint256.Int, error)

	// ListEvents returns the most recent events, oldest first. limit <= 0
	// returns all.
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)

	// ListEventsByUser returns all events of one staker, oldest first.
	ListEventsByUser(ctx context.Context, user common.Address) ([]model.Event, error)
}

// Tx is a unit of work. Writes become visible to other readers only once
// the enclosing WithTx returns nil.
type Tx interface {
	Reader

	// PutConfiguration writes the configuration and accumulator.
	PutConfiguration(ctx context.Context, cfg *model.Configuration) error

	// PutPosition writes one position. Zeroed positions are kept.
	PutPosition(ctx context.Context, p *model.Position) error

	// SetBalance and SetAllowance back the asset bank.
	SetBalance(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error
	SetAllowance(ctx context.Context, asset, owner, spender common.Address, amount *uint256.Int) error

	// InsertEvent appends an immutable event.
	InsertEvent(ctx context.Context, e *model.Event) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// WithTx runs fn in a transaction, committing iff fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
