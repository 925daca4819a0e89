// Package audit periodically checks that the ledger is solvent: every
// reward it owes is reserved, every reservation is backed by reward tokens
// it holds, and every staked token is in custody.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"

	"github.com/atmx/staking-ledger/internal/ledger"
	"github.com/atmx/staking-ledger/internal/metrics"
	"github.com/atmx/staking-ledger/internal/model"
	"github.com/atmx/staking-ledger/internal/recorder"
	"github.com/atmx/staking-ledger/internal/store"
)

// DefaultSchedule runs the audit at the top of every minute.
const DefaultSchedule = "0 * * * * *"

// Auditor computes solvency reports from committed state.
type Auditor struct {
	store    store.Store
	self     common.Address
	recorder recorder.Recorder
	now      func() time.Time
}

// NewAuditor creates an auditor for the ledger account self.
func NewAuditor(st store.Store, self common.Address, rec recorder.Recorder) *Auditor {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Auditor{store: st, self: self, recorder: rec, now: time.Now}
}

// Run computes a report, publishes it to metrics and the recorder, and
// returns it. It returns ledger.ErrNotInitialized before initialization.
func (a *Auditor) Run(ctx context.Context) (*model.AuditReport, error) {
	var (
		cfg       *model.Configuration
		positions []model.Position
		pool      *uint256.Int
		custody   *uint256.Int
	)
	// One transaction so a concurrent stake or unstake is seen entirely or
	// not at all. Nothing is written, so it always commits empty.
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		cfg, err = tx.GetConfiguration(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return ledger.ErrNotInitialized
		}
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		if positions, err = tx.ListPositions(ctx); err != nil {
			return fmt.Errorf("audit: list positions: %w", err)
		}
		if pool, err = tx.GetBalance(ctx, cfg.RewardAsset, a.self); err != nil {
			return fmt.Errorf("audit: reward pool: %w", err)
		}
		if custody, err = tx.GetBalance(ctx, cfg.StakingAsset, a.self); err != nil {
			return fmt.Errorf("audit: staking custody: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rep := Check(cfg, positions, pool, custody)
	rep.Timestamp = a.now().UTC()

	metrics.ReservedRewards.Set(metrics.Float(rep.TotalReservedRewards))
	metrics.RewardPool.Set(metrics.Float(rep.RewardPoolBalance))
	metrics.AuditViolations.Set(float64(len(rep.Violations)))
	if rep.Healthy() {
		metrics.AuditRuns.WithLabelValues("healthy").Inc()
	} else {
		metrics.AuditRuns.WithLabelValues("violation").Inc()
		slog.Warn("solvency audit found violations",
			"violations", rep.Violations,
			"reserved", rep.TotalReservedRewards.Dec(),
			"pool", rep.RewardPoolBalance.Dec(),
		)
	}

	if err := a.recorder.RecordAudit(rep); err != nil {
		slog.Error("record audit", "err", err)
	}
	return rep, nil
}

// Check evaluates solvency of cfg and positions against the ledger's
// reward pool and staking custody balances. It does no I/O.
func Check(cfg *model.Configuration, positions []model.Position, pool, custody *uint256.Int) *model.AuditReport {
	rep := &model.AuditReport{
		TotalReservedRewards: cfg.TotalReservedRewards.Clone(),
		SumRewardBalances:    new(uint256.Int),
		SumStakedBalances:    new(uint256.Int),
		RewardPoolBalance:    pool.Clone(),
	}

	overflow := false
	for _, p := range positions {
		if p.IsZero() {
			continue
		}
		rep.Positions++
		if p.StakedBalance.IsZero() != p.RewardBalance.IsZero() {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("position %s is unpaired: staked %s, reward %s",
					p.User.Hex(), p.StakedBalance.Dec(), p.RewardBalance.Dec()))
		}
		var o1, o2 bool
		rep.SumStakedBalances, o1 = new(uint256.Int).AddOverflow(rep.SumStakedBalances, p.StakedBalance)
		rep.SumRewardBalances, o2 = new(uint256.Int).AddOverflow(rep.SumRewardBalances, p.RewardBalance)
		overflow = overflow || o1 || o2
	}
	if overflow {
		rep.Violations = append(rep.Violations, "position sums overflow 256 bits")
	}

	if !rep.TotalReservedRewards.Eq(rep.SumRewardBalances) {
		rep.Violations = append(rep.Violations,
			fmt.Sprintf("reserved rewards %s != sum of reward balances %s",
				rep.TotalReservedRewards.Dec(), rep.SumRewardBalances.Dec()))
	}

	if cfg.StakingAsset == cfg.RewardAsset {
		// One balance backs both the reserve and the principal.
		need, o := new(uint256.Int).AddOverflow(rep.TotalReservedRewards, rep.SumStakedBalances)
		if o || pool.Lt(need) {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("ledger holds %s, needs %s for reserve plus principal", pool.Dec(), need.Dec()))
		}
		return rep
	}

	if pool.Lt(rep.TotalReservedRewards) {
		rep.Violations = append(rep.Violations,
			fmt.Sprintf("reward pool %s below reserved rewards %s",
				pool.Dec(), rep.TotalReservedRewards.Dec()))
	}
	if custody.Lt(rep.SumStakedBalances) {
		rep.Violations = append(rep.Violations,
			fmt.Sprintf("staking custody %s below staked principal %s",
				custody.Dec(), rep.SumStakedBalances.Dec()))
	}
	return rep
}

// Scheduler runs the auditor on a cron schedule with a seconds field.
type Scheduler struct {
	cron    *cron.Cron
	auditor *Auditor
	ctx     context.Context
	timeout time.Duration
}

// NewScheduler registers the audit under schedule. An empty schedule uses
// DefaultSchedule.
func NewScheduler(ctx context.Context, auditor *Auditor, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		auditor: auditor,
		ctx:     ctx,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("register audit task %q: %w", schedule, err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("audit scheduler started")
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("audit scheduler stopped")
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	rep, err := s.auditor.Run(ctx)
	if errors.Is(err, ledger.ErrNotInitialized) {
		slog.Debug("audit skipped, ledger not initialized")
		return
	}
	if err != nil {
		metrics.AuditRuns.WithLabelValues("error").Inc()
		slog.Error("solvency audit failed", "err", err)
		return
	}
	slog.Info("solvency audit complete",
		"healthy", rep.Healthy(),
		"positions", rep.Positions,
		"reserved", rep.TotalReservedRewards.Dec(),
	)
}
