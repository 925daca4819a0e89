package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/staking-ledger/internal/model"
)

// ledgerLockID keys the transaction-scoped advisory lock that serializes
// ledger writes across replicas.
const ledgerLockID = 0x5354414b45

// schema is applied by Migrate. Amounts are NUMERIC(78,0), wide enough for
// any 256-bit unsigned integer; addresses are checksummed hex.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_config (
		id                     SMALLINT PRIMARY KEY CHECK (id = 1),
		staking_asset          TEXT NOT NULL,
		reward_asset           TEXT NOT NULL,
		reward_rate            NUMERIC(78,0) NOT NULL,
		reward_divisor         NUMERIC(78,0) NOT NULL,
		total_reserved_rewards NUMERIC(78,0) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		user_address   TEXT PRIMARY KEY,
		staked_balance NUMERIC(78,0) NOT NULL,
		reward_balance NUMERIC(78,0) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS asset_balances (
		asset   TEXT NOT NULL,
		holder  TEXT NOT NULL,
		balance NUMERIC(78,0) NOT NULL,
		PRIMARY KEY (asset, holder)
	)`,
	`CREATE TABLE IF NOT EXISTS asset_allowances (
		asset     TEXT NOT NULL,
		owner     TEXT NOT NULL,
		spender   TEXT NOT NULL,
		allowance NUMERIC(78,0) NOT NULL,
		PRIMARY KEY (asset, owner, spender)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_events (
		seq       BIGSERIAL PRIMARY KEY,
		id        TEXT UNIQUE NOT NULL,
		type      TEXT NOT NULL,
		staker    TEXT NOT NULL,
		amount    NUMERIC(78,0) NOT NULL,
		reward    NUMERIC(78,0) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_events_staker ON ledger_events(staker, seq)`,
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC and round-tripped as text so no
// precision is lost.
type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(ledgerLockID)); err != nil {
		return fmt.Errorf("ledger lock: %w", err)
	}
	if err := fn(&pgTx{pgReader: pgReader{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgReader implements Reader over either the pool or an open transaction.
type pgReader struct {
	q querier
}

func (r pgReader) GetConfiguration(ctx context.Context) (*model.Configuration, error) {
	var stakingAsset, rewardAsset, rate, divisor, reserved string
	err := r.q.QueryRow(ctx,
		`SELECT staking_asset, reward_asset,
		        reward_rate::TEXT, reward_divisor::TEXT, total_reserved_rewards::TEXT
		 FROM ledger_config WHERE id = 1`).
		Scan(&stakingAsset, &rewardAsset, &rate, &divisor, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("configuration: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}

	cfg := &model.Configuration{
		StakingAsset: common.HexToAddress(stakingAsset),
		RewardAsset:  common.HexToAddress(rewardAsset),
	}
	if cfg.RewardRate, err = parseNumeric(rate); err != nil {
		return nil, err
	}
	if cfg.RewardDivisor, err = parseNumeric(divisor); err != nil {
		return nil, err
	}
	if cfg.TotalReservedRewards, err = parseNumeric(reserved); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r pgReader) GetPosition(ctx context.Context, user common.Address) (*model.Position, error) {
	var staked, reward string
	err := r.q.QueryRow(ctx,
		`SELECT staked_balance::TEXT, reward_balance::TEXT
		 FROM positions WHERE user_address = $1`, user.Hex()).
		Scan(&staked, &reward)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewPosition(user), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", user.Hex(), err)
	}
	return newPosition(user, staked, reward)
}

func (r pgReader) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := r.q.Query(ctx,
		`SELECT user_address, staked_balance::TEXT, reward_balance::TEXT
		 FROM positions ORDER BY user_address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var user, staked, reward string
		if err := rows.Scan(&user, &staked, &reward); err != nil {
			return nil, err
		}
		p, err := newPosition(common.HexToAddress(user), staked, reward)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (r pgReader) GetBalance(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	var balance string
	err := r.q.QueryRow(ctx,
		`SELECT balance::TEXT FROM asset_balances WHERE asset = $1 AND holder = $2`,
		asset.Hex(), holder.Hex()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s/%s: %w", asset.Hex(), holder.Hex(), err)
	}
	return parseNumeric(balance)
}

func (r pgReader) GetAllowance(ctx context.Context, asset, owner, spender common.Address) (*uint256.Int, error) {
	var allowance string
	err := r.q.QueryRow(ctx,
		`SELECT allowance::TEXT FROM asset_allowances
		 WHERE asset = $1 AND owner = $2 AND spender = $3`,
		asset.Hex(), owner.Hex(), spender.Hex()).Scan(&allowance)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get allowance %s/%s/%s: %w", asset.Hex(), owner.Hex(), spender.Hex(), err)
	}
	return parseNumeric(allowance)
}

func (r pgReader) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	// LIMIT NULL is LIMIT ALL.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.q.Query(ctx,
		`SELECT id, type, staker, amount, reward, timestamp FROM (
		     SELECT seq, id, type, staker, amount::TEXT, reward::TEXT, timestamp
		     FROM ledger_events ORDER BY seq DESC LIMIT $1
		 ) recent ORDER BY seq`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r pgReader) ListEventsByUser(ctx context.Context, user common.Address) ([]model.Event, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, type, staker, amount::TEXT, reward::TEXT, timestamp
		 FROM ledger_events WHERE staker = $1 ORDER BY seq`, user.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// pgTx implements Tx inside an open pgx transaction.
type pgTx struct {
	pgReader
}

func (t *pgTx) PutConfiguration(ctx context.Context, cfg *model.Configuration) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_config (id, staking_asset, reward_asset, reward_rate, reward_divisor, total_reserved_rewards)
		 VALUES (1, $1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		     staking_asset = EXCLUDED.staking_asset,
		     reward_asset = EXCLUDED.reward_asset,
		     reward_rate = EXCLUDED.reward_rate,
		     reward_divisor = EXCLUDED.reward_divisor,
		     total_reserved_rewards = EXCLUDED.total_reserved_rewards`,
		cfg.StakingAsset.Hex(), cfg.RewardAsset.Hex(),
		cfg.RewardRate.Dec(), cfg.RewardDivisor.Dec(), cfg.TotalReservedRewards.Dec(),
	)
	if err != nil {
		return fmt.Errorf("put configuration: %w", err)
	}
	return nil
}

func (t *pgTx) PutPosition(ctx context.Context, p *model.Position) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO positions (user_address, staked_balance, reward_balance)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (user_address) DO UPDATE SET
		     staked_balance = EXCLUDED.staked_balance,
		     reward_balance = EXCLUDED.reward_balance`,
		p.User.Hex(), p.StakedBalance.Dec(), p.RewardBalance.Dec(),
	)
	if err != nil {
		return fmt.Errorf("put position %s: %w", p.User.Hex(), err)
	}
	return nil
}

func (t *pgTx) SetBalance(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO asset_balances (asset, holder, balance)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (asset, holder) DO UPDATE SET balance = EXCLUDED.balance`,
		asset.Hex(), holder.Hex(), amount.Dec(),
	)
	if err != nil {
		return fmt.Errorf("set balance %s/%s: %w", asset.Hex(), holder.Hex(), err)
	}
	return nil
}

func (t *pgTx) SetAllowance(ctx context.Context, asset, owner, spender common.Address, amount *uint256.Int) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO asset_allowances (asset, owner, spender, allowance)
		 VALUES ($1, $2, $3, $4::NUMERIC)
		 ON CONFLICT (asset, owner, spender) DO UPDATE SET allowance = EXCLUDED.allowance`,
		asset.Hex(), owner.Hex(), spender.Hex(), amount.Dec(),
	)
	if err != nil {
		return fmt.Errorf("set allowance %s/%s/%s: %w", asset.Hex(), owner.Hex(), spender.Hex(), err)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, e *model.Event) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_events (id, type, staker, amount, reward, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		e.ID, e.Type, e.Staker.Hex(), e.Amount.Dec(), e.Reward.Dec(), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var staker, amount, reward string
		if err := rows.Scan(&e.ID, &e.Type, &staker, &amount, &reward, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Staker = common.HexToAddress(staker)
		var err error
		if e.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		if e.Reward, err = parseNumeric(reward); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func newPosition(user common.Address, staked, reward string) (*model.Position, error) {
	p := &model.Position{User: user}
	var err error
	if p.StakedBalance, err = parseNumeric(staked); err != nil {
		return nil, err
	}
	if p.RewardBalance, err = parseNumeric(reward); err != nil {
		return nil, err
	}
	return p, nil
}

func parseNumeric(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}
