// Package recorder archives ledger events and audit reports for offline
// analysis. The archive is write-only from the service's point of view;
// the source of truth stays in the store.
package recorder

import "github.com/atmx/staking-ledger/internal/model"

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordEvent(e *model.Event) error
	RecordAudit(r *model.AuditReport) error
	Close() error
}
