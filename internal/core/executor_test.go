package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"selectcore/pkg/domain"
)

// scriptedStream builds a stream over fixed batches without a record store.
func scriptedStream(batches ...[]domain.RecordID) *Stream {
	i := 0
	return &Stream{next: func(context.Context) ([]RecordID, error) {
		if i >= len(batches) {
			return nil, nil
		}
		batch := batches[i]
		i++
		return batch, nil
	}}
}

type countingAction struct {
	mu      sync.Mutex
	applied map[domain.RecordID]int
	failOn  map[domain.RecordID]error
	fn      func(ctx context.Context, id domain.RecordID) error
}

func newCountingAction() *countingAction {
	return &countingAction{applied: map[domain.RecordID]int{}, failOn: map[domain.RecordID]error{}}
}

func (a *countingAction) Kind() string { return "test.count" }

func (a *countingAction) Apply(ctx context.Context, id domain.RecordID) error {
	a.mu.Lock()
	a.applied[id]++
	a.mu.Unlock()
	if a.fn != nil {
		return a.fn(ctx, id)
	}
	return a.failOn[id]
}

func ids(prefix string, n int) []domain.RecordID {
	out := make([]domain.RecordID, n)
	for i := range out {
		out[i] = domain.RecordID(fmt.Sprintf("%s%03d", prefix, i))
	}
	return out
}

func TestExecutePartialFailureNeverAborts(t *testing.T) {
	all := ids("r", 10)
	action := newCountingAction()
	action.failOn[all[2]] = domain.ActionError{Kind: "conflict", Err: errors.New("locked")}
	action.failOn[all[5]] = domain.ActionError{Kind: "not_found", Err: errors.New("gone")}
	action.failOn[all[8]] = errors.New("disk full")

	exec := NewExecutor(ExecutorConfig{Concurrency: 2}, nil, nil)
	result, err := exec.Execute(context.Background(), scriptedStream(all[:4], all[4:]), action)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != StatusCompletedWithErrors {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Attempted != 10 || result.Succeeded != 7 || result.Failed != 3 {
		t.Fatalf("counts = %d/%d/%d", result.Attempted, result.Succeeded, result.Failed)
	}
	if len(result.Failures) != 3 {
		t.Fatalf("failures = %v", result.Failures)
	}
	kinds := map[domain.RecordID]string{}
	for _, f := range result.Failures {
		kinds[f.ID] = f.Kind
	}
	if kinds[all[2]] != "conflict" || kinds[all[5]] != "not_found" || kinds[all[8]] != "error" {
		t.Fatalf("failure kinds = %v", kinds)
	}
}

func TestExecuteAllSucceeded(t *testing.T) {
	action := newCountingAction()
	exec := NewExecutor(ExecutorConfig{}, nil, nil)
	result, err := exec.Execute(context.Background(), scriptedStream(ids("r", 5)), action)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != StatusCompleted || result.Attempted != 5 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Fatalf("finished before started")
	}
}

func TestExecuteCancellationPreservesPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := ids("r", 6)
	action := newCountingAction()
	action.fn = func(_ context.Context, id domain.RecordID) error {
		if id == all[2] {
			cancel()
		}
		return nil
	}

	exec := NewExecutor(ExecutorConfig{Concurrency: 1}, nil, nil)
	result, err := exec.Execute(ctx, scriptedStream(all[:3], all[3:]), action)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if result.Status != StatusAborted || result.AbortReason != "cancelled" {
		t.Fatalf("status = %s/%s", result.Status, result.AbortReason)
	}
	// The first batch was fully applied before the abort was observed.
	if result.Attempted != 3 || result.Succeeded != 3 {
		t.Fatalf("counts = %d/%d", result.Attempted, result.Succeeded)
	}
	action.mu.Lock()
	defer action.mu.Unlock()
	for _, id := range all[3:] {
		if action.applied[id] != 0 {
			t.Fatalf("record %s touched after cancellation", id)
		}
	}
}

func TestExecuteTimeoutAborts(t *testing.T) {
	action := newCountingAction()
	action.fn = func(ctx context.Context, _ domain.RecordID) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}

	exec := NewExecutor(ExecutorConfig{Concurrency: 1, Timeout: 20 * time.Millisecond}, nil, nil)
	result, err := exec.Execute(context.Background(), scriptedStream(ids("r", 3)), action)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if result.Status != StatusAborted || result.AbortReason != "timeout" {
		t.Fatalf("status = %s/%s", result.Status, result.AbortReason)
	}
}

func TestExecuteDedupeSkipsRepeats(t *testing.T) {
	action := newCountingAction()
	exec := NewExecutor(ExecutorConfig{Dedupe: true}, nil, nil)
	result, err := exec.Execute(context.Background(), scriptedStream(
		[]domain.RecordID{"a", "b"},
		[]domain.RecordID{"b", "c", "a"},
		[]domain.RecordID{"c"},
	), action)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Attempted != 3 || result.Succeeded != 3 {
		t.Fatalf("counts = %d/%d", result.Attempted, result.Succeeded)
	}
	for _, id := range []domain.RecordID{"a", "b", "c"} {
		if action.applied[id] != 1 {
			t.Fatalf("record %s applied %d times", id, action.applied[id])
		}
	}
}

func TestExecuteResolutionInterruptionAborts(t *testing.T) {
	calls := 0
	stream := &Stream{next: func(context.Context) ([]RecordID, error) {
		calls++
		if calls == 1 {
			return ids("r", 4), nil
		}
		return nil, domain.ResolutionInterruptedError{Err: errors.New("store gone")}
	}}

	action := newCountingAction()
	exec := NewExecutor(ExecutorConfig{}, nil, nil)
	result, err := exec.Execute(context.Background(), stream, action)
	var interrupted domain.ResolutionInterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("err = %v", err)
	}
	if interrupted.Emitted != 4 {
		t.Fatalf("emitted = %d", interrupted.Emitted)
	}
	if result.Status != StatusAborted || result.AbortReason != "resolution_interrupted" {
		t.Fatalf("status = %s/%s", result.Status, result.AbortReason)
	}
	if result.Attempted != 4 || result.Succeeded != 4 {
		t.Fatalf("counts = %d/%d", result.Attempted, result.Succeeded)
	}
}
