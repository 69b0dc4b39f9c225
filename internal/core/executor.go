package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"selectcore/pkg/domain"
)

// Action is a caller-supplied operation applied to each resolved record.
// Implementations SHOULD be idempotent per record since a token may be
// re-resolved after a client retry; when they are not, enable Dedupe.
type Action interface {
	Kind() string
	Apply(ctx context.Context, id RecordID) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc struct {
	Name string
	Fn   func(ctx context.Context, id RecordID) error
}

// Kind returns the action's registered name.
func (a ActionFunc) Kind() string { return a.Name }

// Apply invokes the wrapped function.
func (a ActionFunc) Apply(ctx context.Context, id RecordID) error { return a.Fn(ctx, id) }

// ExecutorConfig tunes one bulk execution.
type ExecutorConfig struct {
	// Concurrency bounds in-flight actions within a batch. Order-sensitive
	// actions must set 1; completion order is otherwise unspecified.
	Concurrency int
	// Timeout is a soft deadline for the whole execution. Expiry behaves
	// like a cancellation (status aborted with partial results), not a
	// hard error.
	Timeout time.Duration
	// Dedupe tracks processed IDs and skips repeats within one execution,
	// for actions that are not idempotent per record.
	Dedupe bool
}

// Executor applies an action to every ID a stream emits, accumulating
// partial failures. A single record's failure never aborts the run; only
// cancellation, timeout, or an interrupted resolution do, and then
// already-applied actions stay applied.
type Executor struct {
	cfg     ExecutorConfig
	metrics ExecutionMetrics
	logger  Logger
	nowFn   func() time.Time
}

// NewExecutor constructs an executor. Zero config fields take defaults
// (concurrency 4, no timeout, no dedupe).
func NewExecutor(cfg ExecutorConfig, metrics ExecutionMetrics, logger Logger) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{cfg: cfg, metrics: metrics, logger: logger, nowFn: func() time.Time { return time.Now().UTC() }}
}

// Execute drains the stream in batches and applies action to each record.
// The returned result is always meaningful, including on abort; the error
// return carries only the abort cause for callers that want to inspect it.
func (e *Executor) Execute(ctx context.Context, stream *Stream, action Action) (BulkOperationResult, error) {
	result := BulkOperationResult{StartedAt: e.nowFn()}

	cancel := context.CancelFunc(func() {})
	if e.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	defer cancel()

	var mu sync.Mutex
	var processed map[RecordID]struct{}
	if e.cfg.Dedupe {
		processed = make(map[RecordID]struct{})
	}

	var abortErr error
	for {
		if err := ctx.Err(); err != nil {
			abortErr = err
			break
		}
		batch, err := stream.Next(ctx)
		if err != nil {
			abortErr = err
			break
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.Concurrency)
		for _, id := range batch {
			if processed != nil {
				if _, seen := processed[id]; seen {
					e.metrics.RecordOutcome("deduped")
					continue
				}
				processed[id] = struct{}{}
			}
			id := id
			g.Go(func() error {
				if gctx.Err() != nil {
					// Launched after cancellation; do not touch the record
					// or the counters.
					return nil
				}
				if err := action.Apply(gctx, id); err != nil {
					failure := classifyActionError(id, err)
					mu.Lock()
					result.RecordFailure(failure)
					mu.Unlock()
					e.metrics.RecordOutcome("failed")
					e.logger.Debug("bulk action failed", "record", string(id), "kind", failure.Kind)
					return nil
				}
				mu.Lock()
				result.RecordSuccess()
				mu.Unlock()
				e.metrics.RecordOutcome("succeeded")
				return nil
			})
		}
		// Goroutines never return errors; Wait only synchronizes.
		_ = g.Wait()
	}

	finished := e.nowFn()
	aborted := abortErr != nil
	result.Finalize(aborted, abortReason(abortErr), finished)
	e.metrics.JobFinished(string(result.Status), finished.Sub(result.StartedAt))
	if aborted {
		return result, abortErr
	}
	return result, nil
}

func classifyActionError(id RecordID, err error) ItemFailure {
	var actionErr domain.ActionError
	if errors.As(err, &actionErr) {
		return ItemFailure{ID: id, Kind: actionErr.Kind, Reason: actionErr.Error()}
	}
	return ItemFailure{ID: id, Kind: "error", Reason: err.Error()}
}

func abortReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		var interrupted domain.ResolutionInterruptedError
		if errors.As(err, &interrupted) {
			return "resolution_interrupted"
		}
		return err.Error()
	}
}
