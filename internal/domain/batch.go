package domain

import (
	"fmt"
	"time"
)

// Phase names the fixed stages of one nightly run.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseImport     Phase = "IMPORT"
	PhaseMatching   Phase = "MATCHING"
	PhaseEmailQueue Phase = "EMAIL_QUEUE"
	PhaseCleanup    Phase = "CLEANUP"
)

// PhaseOrder lists phases in execution order.
var PhaseOrder = []Phase{PhaseInit, PhaseImport, PhaseMatching, PhaseEmailQueue, PhaseCleanup}

// BatchStatus enumerates the lifecycle states of a batch run.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// IsTerminal returns true if the batch is in a final state.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// PhaseTiming records the wall-clock window of one executed phase.
type PhaseTiming struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// BatchRun is one end-to-end nightly execution.
type BatchRun struct {
	BatchID       string                 `json:"batch_id" db:"batch_id"`
	CorrelationID string                 `json:"correlation_id" db:"correlation_id"`
	Status        BatchStatus            `json:"status" db:"status"`
	StartedAt     time.Time              `json:"started_at" db:"started_at"`
	EndedAt       *time.Time             `json:"ended_at" db:"ended_at"`
	PhaseTimes    map[Phase]PhaseTiming  `json:"phase_times" db:"-"`
	Processed     int64                  `json:"processed" db:"processed"`
	Errors        int64                  `json:"errors" db:"errors"`
	ErrorSummary  map[string]int         `json:"error_summary" db:"-"`
}

// NewBatchID returns a datetime-stamped batch identifier,
// e.g. "batch_20260824_031500".
func NewBatchID(t time.Time) string {
	return fmt.Sprintf("batch_%s", t.UTC().Format("20060102_150405"))
}

// SuccessRate returns processed-minus-errors over processed, in [0,1].
func (b *BatchRun) SuccessRate() float64 {
	if b.Processed == 0 {
		return 1
	}
	return float64(b.Processed-b.Errors) / float64(b.Processed)
}

// Checkpoint is the durable restart frontier for one phase of a run.
// Payload stays small (frontier + counters) so recovery is a single read.
type Checkpoint struct {
	BatchID   string    `json:"batch_id" db:"batch_id"`
	Phase     Phase     `json:"phase" db:"phase"`
	At        time.Time `json:"at" db:"at"`
	Payload   []byte    `json:"payload" db:"payload"`
}

// MatchingFrontier is the JSON payload of a MATCHING-phase checkpoint.
type MatchingFrontier struct {
	LastUserID int64 `json:"last_user_id"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}

// AlertSeverity grades outbound alert records.
type AlertSeverity string

const (
	AlertLow      AlertSeverity = "LOW"
	AlertMedium   AlertSeverity = "MED"
	AlertHigh     AlertSeverity = "HIGH"
	AlertCritical AlertSeverity = "CRITICAL"
)

// Alert is the outbound alert contract; the core writes the record and
// raises a hook, delivery is external.
type Alert struct {
	BatchID   string        `json:"batch_id" db:"batch_id"`
	Severity  AlertSeverity `json:"severity" db:"severity"`
	Message   string        `json:"message" db:"message"`
	Timestamp time.Time     `json:"timestamp" db:"timestamp"`
}
