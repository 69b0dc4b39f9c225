package domain

import "time"

// OperationStatus is the terminal state of a bulk execution.
type OperationStatus string

const (
	// StatusCompleted means every attempted record succeeded.
	StatusCompleted OperationStatus = "completed"
	// StatusCompletedWithErrors means some records failed but the run
	// processed the whole stream.
	StatusCompletedWithErrors OperationStatus = "completed_with_errors"
	// StatusAborted means the run stopped early (cancellation, timeout,
	// or an interrupted resolution). Partial results are preserved;
	// already-applied actions are not rolled back.
	StatusAborted OperationStatus = "aborted"
)

// ItemFailure records one record the action could not be applied to.
type ItemFailure struct {
	ID     RecordID `json:"id"`
	Kind   string   `json:"kind"`
	Reason string   `json:"reason,omitempty"`
}

// MaxReportedFailures bounds the failed-item list carried inline on a
// result. The full list is available through the failure report artifact.
const MaxReportedFailures = 1000

// BulkOperationResult aggregates the outcome of one bulk execution.
// Invariant: Succeeded + Failed == Attempted. Attempted may be smaller
// than the estimate if records were deleted concurrently; that is expected.
type BulkOperationResult struct {
	Attempted    int             `json:"attempted"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	Failures     []ItemFailure   `json:"failures,omitempty"`
	TruncatedAt  int             `json:"failures_truncated_at,omitempty"`
	Status       OperationStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	AbortReason  string          `json:"abort_reason,omitempty"`
}

// RecordSuccess accounts one applied record.
func (r *BulkOperationResult) RecordSuccess() {
	r.Attempted++
	r.Succeeded++
}

// RecordFailure accounts one failed record, keeping the inline failure
// list bounded.
func (r *BulkOperationResult) RecordFailure(f ItemFailure) {
	r.Attempted++
	r.Failed++
	if len(r.Failures) < MaxReportedFailures {
		r.Failures = append(r.Failures, f)
	} else if r.TruncatedAt == 0 {
		r.TruncatedAt = MaxReportedFailures
	}
}

// Finalize stamps the terminal status. An aborted run keeps StatusAborted
// regardless of per-record outcomes.
func (r *BulkOperationResult) Finalize(aborted bool, reason string, finished time.Time) {
	r.FinishedAt = finished
	if aborted {
		r.Status = StatusAborted
		r.AbortReason = reason
		return
	}
	if r.Failed > 0 {
		r.Status = StatusCompletedWithErrors
		return
	}
	r.Status = StatusCompleted
}

// Clone returns a deep copy safe to hand across goroutines.
func (r BulkOperationResult) Clone() BulkOperationResult {
	dup := r
	if len(r.Failures) > 0 {
		dup.Failures = append([]ItemFailure(nil), r.Failures...)
	}
	return dup
}
