// Package staking hosts the staking ledger: it serializes calls, runs each
// call in one store transaction together with the asset movements it
// makes, publishes emitted events, and exposes the HTTP call surface.
//
// All amounts are uint256 base units, never float64 for money.
package staking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/atmx/staking-ledger/internal/asset"
	"github.com/atmx/staking-ledger/internal/audit"
	"github.com/atmx/staking-ledger/internal/ledger"
	"github.com/atmx/staking-ledger/internal/metrics"
	"github.com/atmx/staking-ledger/internal/model"
	"github.com/atmx/staking-ledger/internal/recorder"
	"github.com/atmx/staking-ledger/internal/store"
)

var (
	// ErrFaucetDisabled is returned by Mint when the faucet is off.
	ErrFaucetDisabled = errors.New("staking: faucet disabled")

	// ErrLedgerAccount is returned when an asset call would spend from the
	// ledger's own account. Only stake and unstake move the ledger's funds.
	ErrLedgerAccount = errors.New("staking: ledger account cannot be spent directly")
)

// Options configures optional collaborators. Zero values are valid.
type Options struct {
	Policy   ledger.TransferPolicy
	Recorder recorder.Recorder
	Hub      *WSHub // optional WebSocket hub for real-time broadcasts
	Faucet   bool
}

// Service hosts one ledger instance. A mutex serializes every
// state-changing call (single-instance); across replicas the PostgreSQL
// store additionally takes a transaction-scoped advisory lock.
type Service struct {
	store    store.Store
	registry *asset.Registry
	self     common.Address
	policy   ledger.TransferPolicy
	recorder recorder.Recorder
	auditor  *audit.Auditor
	wsHub    *WSHub
	faucet   bool
	mu       sync.Mutex
}

// NewService creates a staking service for the ledger account self.
func NewService(st store.Store, registry *asset.Registry, self common.Address, opts Options) *Service {
	rec := opts.Recorder
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	policy := opts.Policy
	if policy == "" {
		policy = ledger.PolicyStrict
	}
	return &Service{
		store:    st,
		registry: registry,
		self:     self,
		policy:   policy,
		recorder: rec,
		auditor:  audit.NewAuditor(st, self, rec),
		wsHub:    opts.Hub,
		faucet:   opts.Faucet,
	}
}

// Address returns the ledger's own account.
func (s *Service) Address() common.Address {
	return s.self
}

// Auditor returns the solvency auditor bound to this service's store.
func (s *Service) Auditor() *audit.Auditor {
	return s.auditor
}

// Initialize configures the ledger. It can succeed once.
func (s *Service) Initialize(ctx context.Context, stakingAsset, rewardAsset common.Address, rate *uint256.Int) (*model.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg *model.Configuration
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetConfiguration(ctx)
		if err == nil {
			return ledger.ErrAlreadyInitialized
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		st, err := ledger.Initialize(stakingAsset, rewardAsset, rate)
		if err != nil {
			return err
		}
		for _, a := range []common.Address{stakingAsset, rewardAsset} {
			if _, err := s.registry.Lookup(a); err != nil {
				return err
			}
		}
		cfg = st.Config
		return tx.PutConfiguration(ctx, cfg)
	})
	if err != nil {
		metrics.Rejections.WithLabelValues("initialize", errorCode(err)).Inc()
		return nil, err
	}

	metrics.ReservedRewards.Set(0)
	slog.Info("ledger initialized",
		"staking_asset", stakingAsset.Hex(),
		"reward_asset", rewardAsset.Hex(),
		"reward_rate", rate.Dec(),
		"policy", string(s.policy),
	)
	return cfg.Clone(), nil
}

// Stake deposits amount of the staking asset on behalf of staker.
func (s *Service) Stake(ctx context.Context, staker common.Address, amount *uint256.Int) (*model.Event, error) {
	return s.call(ctx, "stake", staker, func(l *ledger.Ledger, st *ledger.State) (*model.Event, error) {
		return l.Stake(ctx, st, staker, amount)
	})
}

// Unstake returns staker's principal and pays the owed reward.
func (s *Service) Unstake(ctx context.Context, staker common.Address) (*model.Event, error) {
	return s.call(ctx, "unstake", staker, func(l *ledger.Ledger, st *ledger.State) (*model.Event, error) {
		return l.Unstake(ctx, st, staker)
	})
}

// call runs one ledger operation in a store transaction: load the
// snapshot, let the ledger mutate it, persist it with the event.
func (s *Service) call(ctx context.Context, op string, staker common.Address,
	fn func(l *ledger.Ledger, st *ledger.State) (*model.Event, error)) (*model.Event, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var ev *model.Event
	var reserved *uint256.Int
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cfg, err := tx.GetConfiguration(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return ledger.ErrNotInitialized
		}
		if err != nil {
			return err
		}
		pos, err := tx.GetPosition(ctx, staker)
		if err != nil {
			return err
		}
		st := ledger.NewState(cfg, pos)

		l := ledger.New(s.self, asset.NewBank(s.registry, tx), s.policy)
		l.OnTransferFailure = func(failedOp string, a common.Address, err error) {
			metrics.TransferFailures.WithLabelValues(failedOp).Inc()
			slog.Error("asset transfer failed",
				"op", failedOp,
				"asset", a.Hex(),
				"staker", staker.Hex(),
				"policy", string(s.policy),
				"err", err,
			)
		}

		ev, err = fn(l, st)
		if err != nil {
			return err
		}

		if err := tx.PutConfiguration(ctx, st.Config); err != nil {
			return err
		}
		for _, p := range st.Positions {
			if err := tx.PutPosition(ctx, p); err != nil {
				return err
			}
		}
		reserved = st.Config.TotalReservedRewards.Clone()
		return tx.InsertEvent(ctx, ev)
	})
	if err != nil {
		metrics.Rejections.WithLabelValues(op, errorCode(err)).Inc()
		return nil, err
	}

	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.emit(ev, reserved)
	return ev, nil
}

// emit publishes a committed event.
func (s *Service) emit(ev *model.Event, reserved *uint256.Int) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(eventMessage(ev))
	}
	if err := s.recorder.RecordEvent(ev); err != nil {
		slog.Error("record event", "id", ev.ID, "err", err)
	}

	metrics.OperationsTotal.WithLabelValues(ev.Type).Inc()
	metrics.ReservedRewards.Set(metrics.Float(reserved))
	switch ev.Type {
	case model.EventStaked:
		metrics.StakedVolume.Add(metrics.Float(ev.Amount))
	case model.EventUnstaked:
		metrics.RewardsPaid.Add(metrics.Float(ev.Reward))
	}

	slog.Info("ledger event",
		"id", ev.ID,
		"type", ev.Type,
		"staker", ev.Staker.Hex(),
		"amount", ev.Amount.Dec(),
		"reward", ev.Reward.Dec(),
		"reserved", reserved.Dec(),
	)
}

// Configuration returns the ledger configuration and accounting.
func (s *Service) Configuration(ctx context.Context) (*model.Configuration, error) {
	cfg, err := s.store.GetConfiguration(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ledger.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return ledger.Configuration(ledger.NewState(cfg)), nil
}

// QueryUserInfo returns user's position. Unknown users read as zero.
func (s *Service) QueryUserInfo(ctx context.Context, user common.Address) (model.UserInfo, error) {
	cfg, err := s.Configuration(ctx)
	if err != nil {
		return model.UserInfo{}, err
	}
	pos, err := s.store.GetPosition(ctx, user)
	if err != nil {
		return model.UserInfo{}, err
	}
	return ledger.QueryUserInfo(ledger.NewState(cfg, pos), user), nil
}

// Preview is the outcome a stake of Amount would have right now.
type Preview struct {
	Amount    *uint256.Int `json:"amount"`
	Reward    *uint256.Int `json:"reward"`
	Available *uint256.Int `json:"available"`
	Covered   bool         `json:"covered"`
	Deficit   *uint256.Int `json:"deficit,omitempty"`
}

// PreviewStake computes the reward a stake of amount would accrue and
// whether the reward pool could cover it. Nothing is mutated.
func (s *Service) PreviewStake(ctx context.Context, amount *uint256.Int) (*Preview, error) {
	cfg, err := s.Configuration(ctx)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ledger.ErrInvalidStakeAmount
	}
	reward, err := ledger.Reward(amount, cfg.RewardRate, cfg.RewardDivisor)
	if err != nil {
		return nil, err
	}
	if reward.IsZero() {
		return nil, ledger.ErrZeroRewardGenerated
	}
	available, err := s.store.GetBalance(ctx, cfg.RewardAsset, s.self)
	if err != nil {
		return nil, err
	}

	p := &Preview{Amount: amount.Clone(), Reward: reward, Available: available}
	need, overflow := new(uint256.Int).AddOverflow(cfg.TotalReservedRewards, reward)
	if overflow {
		return nil, ledger.ErrAmountOverflow
	}
	p.Covered = !need.Gt(available)
	if !p.Covered {
		p.Deficit = new(uint256.Int).Sub(need, available)
	}
	return p, nil
}

// Events returns the event log, optionally filtered to one staker.
func (s *Service) Events(ctx context.Context, user *common.Address, limit int) ([]model.Event, error) {
	if user != nil {
		return s.store.ListEventsByUser(ctx, *user)
	}
	return s.store.ListEvents(ctx, limit)
}

// Assets lists the registered assets.
func (s *Service) Assets() []model.Asset {
	return s.registry.List()
}

// Balance returns holder's balance of an asset.
func (s *Service) Balance(ctx context.Context, a, holder common.Address) (*uint256.Int, error) {
	if _, err := s.registry.Lookup(a); err != nil {
		return nil, err
	}
	return s.store.GetBalance(ctx, a, holder)
}

// Approve lets spender pull up to amount of owner's asset.
func (s *Service) Approve(ctx context.Context, a, owner, spender common.Address, amount *uint256.Int) error {
	if owner == s.self {
		return ErrLedgerAccount
	}
	return s.bank(ctx, func(b *asset.Bank) error {
		return b.Approve(ctx, a, owner, spender, amount)
	})
}

// Transfer moves amount of an asset between accounts, e.g. to fund the
// reward pool. The ledger account may receive but never send.
func (s *Service) Transfer(ctx context.Context, a, from, to common.Address, amount *uint256.Int) error {
	if from == s.self {
		return ErrLedgerAccount
	}
	return s.bank(ctx, func(b *asset.Bank) error {
		return b.Transfer(ctx, a, from, to, amount)
	})
}

// Mint credits amount out of thin air. It fails unless the faucet is on.
func (s *Service) Mint(ctx context.Context, a, to common.Address, amount *uint256.Int) error {
	if !s.faucet {
		return ErrFaucetDisabled
	}
	return s.Credit(ctx, a, to, amount)
}

// Credit mints without the faucet check. Used for genesis allocations.
func (s *Service) Credit(ctx context.Context, a, to common.Address, amount *uint256.Int) error {
	return s.bank(ctx, func(b *asset.Bank) error {
		return b.Mint(ctx, a, to, amount)
	})
}

// bank runs fn against the asset bank in its own transaction. Asset calls
// share the ledger's mutex so they never interleave with a ledger call.
func (s *Service) bank(ctx context.Context, fn func(b *asset.Bank) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.WithTx(ctx, func(tx store.Tx) error {
		return fn(asset.NewBank(s.registry, tx))
	})
}

// Audit runs the solvency audit now.
func (s *Service) Audit(ctx context.Context) (*model.AuditReport, error) {
	return s.auditor.Run(ctx)
}
