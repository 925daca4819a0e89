package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atmx/staking-ledger/internal/model"
)

// SQLiteRecorder persists historical data to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the service writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	// Amounts are decimal TEXT: SQLite integers stop at 64 bits.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id        TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			type      TEXT NOT NULL,
			staker    TEXT NOT NULL,
			amount    TEXT NOT NULL,
			reward    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON ledger_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_staker ON ledger_events(staker)`,

		`CREATE TABLE IF NOT EXISTS audit_reports (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp              INTEGER NOT NULL,
			total_reserved_rewards TEXT NOT NULL,
			sum_reward_balances    TEXT NOT NULL,
			sum_staked_balances    TEXT NOT NULL,
			reward_pool_balance    TEXT NOT NULL,
			positions              INTEGER NOT NULL,
			healthy                INTEGER NOT NULL,
			violations             TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_reports(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordEvent archives one event. Re-recording the same event is a no-op.
func (r *SQLiteRecorder) RecordEvent(e *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT OR IGNORE INTO ledger_events
		(id, timestamp, type, staker, amount, reward)
		VALUES (?,?,?,?,?,?)`,
		e.ID, e.Timestamp.Unix(), e.Type, e.Staker.Hex(), e.Amount.Dec(), e.Reward.Dec(),
	)
	return err
}

func (r *SQLiteRecorder) RecordAudit(rep *model.AuditReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := rep.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	healthy := 0
	if rep.Healthy() {
		healthy = 1
	}

	_, err := r.db.Exec(`INSERT INTO audit_reports
		(timestamp, total_reserved_rewards, sum_reward_balances, sum_staked_balances,
		 reward_pool_balance, positions, healthy, violations)
		VALUES (?,?,?,?,?,?,?,?)`,
		ts.Unix(), rep.TotalReservedRewards.Dec(), rep.SumRewardBalances.Dec(),
		rep.SumStakedBalances.Dec(), rep.RewardPoolBalance.Dec(),
		rep.Positions, healthy, strings.Join(rep.Violations, "; "),
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
