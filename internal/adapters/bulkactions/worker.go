package bulkactions

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"selectcore/internal/blob"
	"selectcore/internal/core"
	"selectcore/pkg/domain"
)

// JobStatus describes the lifecycle stage of a bulk execution job.
type JobStatus string

const (
	JobStatusQueued              JobStatus = "queued"
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusAborted             JobStatus = "aborted"
	// JobStatusFailed marks jobs that never reached execution, e.g. the
	// token expired between enqueue and processing.
	JobStatusFailed JobStatus = "failed"
)

// ReportArtifact points at a stored failure report.
type ReportArtifact struct {
	Key         string    `json:"key"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobRecord tracks one bulk execution request and its outcome.
type JobRecord struct {
	ID          string                    `json:"id"`
	Token       string                    `json:"token"`
	Action      string                    `json:"action"`
	Params      map[string]any            `json:"params,omitempty"`
	Status      JobStatus                 `json:"status"`
	Error       string                    `json:"error,omitempty"`
	Result      *core.BulkOperationResult `json:"result,omitempty"`
	Reports     []ReportArtifact          `json:"reports,omitempty"`
	RequestedBy string                    `json:"requested_by,omitempty"`
	Reason      string                    `json:"reason,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

func (r JobRecord) copy() JobRecord {
	dup := r
	if r.Params != nil {
		dup.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			dup.Params[k] = v
		}
	}
	if r.Result != nil {
		cloned := r.Result.Clone()
		dup.Result = &cloned
	}
	if len(r.Reports) > 0 {
		dup.Reports = append([]ReportArtifact(nil), r.Reports...)
	}
	return dup
}

// JobInput is an enqueue request.
type JobInput struct {
	Token       string
	Action      string
	Params      map[string]any
	RequestedBy string
	Reason      string
	Concurrency int
	Timeout     time.Duration
	Dedupe      bool
}

// Scheduler queues bulk execution jobs and exposes their status.
type Scheduler interface {
	EnqueueJob(ctx context.Context, input JobInput) (JobRecord, error)
	RunSync(ctx context.Context, input JobInput) (JobRecord, error)
	GetJob(id string) (JobRecord, bool)
}

// AuditEntry captures one audit trail event for a bulk execution.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor,omitempty"`
	Kind       string         `json:"kind"`
	TokenID    string         `json:"token_id"`
	Status     JobStatus      `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// AuditLogger records bulk execution audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MemoryAuditLog captures audit entries in memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

const auditActionExecution = "bulk_execution"

// ErrQueueFull is returned when the execution queue cannot accept more
// jobs; clients should retry later.
var ErrQueueFull = errors.New("execution queue full")

// Worker runs bulk executions asynchronously off an in-process queue.
type Worker struct {
	service  *core.Service
	registry *Registry
	store    blob.Store
	audit    AuditLogger
	metrics  core.ExecutionMetrics
	logger   core.Logger

	queue  chan string
	mu     sync.RWMutex
	jobs   map[string]*JobRecord
	tuning map[string]JobInput

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Scheduler = (*Worker)(nil)

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithAudit installs an audit logger.
func WithAudit(a AuditLogger) WorkerOption {
	return func(w *Worker) {
		if a != nil {
			w.audit = a
		}
	}
}

// WithExecutionMetrics installs per-record and per-job metrics.
func WithExecutionMetrics(m core.ExecutionMetrics) WorkerOption {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithWorkerLogger installs a logger.
func WithWorkerLogger(l core.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker constructs a worker over the selection service and action
// registry. store may be nil; failure reports are then skipped.
func NewWorker(service *core.Service, registry *Registry, store blob.Store, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		service:  service,
		registry: registry,
		store:    store,
		queue:    make(chan string, 32),
		jobs:     make(map[string]*JobRecord),
		tuning:   make(map[string]JobInput),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for in-flight work.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.execute(w.ctx, id)
		}
	}
}

// EnqueueJob validates the request, records a queued job, and schedules
// it. The token and action kind are checked up front so obviously broken
// requests fail at enqueue time rather than in the background.
func (w *Worker) EnqueueJob(ctx context.Context, input JobInput) (JobRecord, error) {
	record, err := w.admit(ctx, input)
	if err != nil {
		return JobRecord{}, err
	}
	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return JobRecord{}, ErrQueueFull
	}
	return record, nil
}

// RunSync admits the job and executes it inline under the caller's
// context. Intended for small selections where the client wants the
// result in the response.
func (w *Worker) RunSync(ctx context.Context, input JobInput) (JobRecord, error) {
	record, err := w.admit(ctx, input)
	if err != nil {
		return JobRecord{}, err
	}
	w.execute(ctx, record.ID)
	final, _ := w.GetJob(record.ID)
	return final, nil
}

func (w *Worker) admit(ctx context.Context, input JobInput) (JobRecord, error) {
	if _, err := w.registry.Resolve(input.Action, input.Params); err != nil {
		return JobRecord{}, err
	}
	if _, err := w.service.ResolveToken(ctx, input.Token); err != nil {
		return JobRecord{}, err
	}

	now := time.Now().UTC()
	record := JobRecord{
		ID:          uuid.NewString(),
		Token:       input.Token,
		Action:      input.Action,
		Params:      input.Params,
		Status:      JobStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored := record.copy()
	w.mu.Lock()
	w.jobs[record.ID] = &stored
	w.mu.Unlock()
	w.jobInputs(record.ID, input)

	w.recordAudit(ctx, record, JobStatusQueued, nil)
	return record, nil
}

// jobInputs stashes execution tuning alongside the job. Kept off the
// public record to keep the API payload small.
func (w *Worker) jobInputs(id string, input JobInput) {
	w.mu.Lock()
	w.tuning[id] = input
	w.mu.Unlock()
}

// GetJob returns a snapshot of the job record.
func (w *Worker) GetJob(id string) (JobRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) execute(ctx context.Context, id string) {
	record, ok := w.GetJob(id)
	if !ok {
		return
	}
	w.mu.RLock()
	input := w.tuning[id]
	w.mu.RUnlock()

	w.transition(ctx, id, JobStatusRunning, "")

	token, stream, err := w.service.OpenStream(ctx, record.Token)
	if err != nil {
		w.fail(ctx, id, fmt.Sprintf("open stream: %v", err))
		return
	}
	defer func() { _ = stream.Close() }()

	action, err := w.registry.Resolve(record.Action, record.Params)
	if err != nil {
		w.fail(ctx, id, err.Error())
		return
	}

	// The inline result bounds its failure list; the collector keeps the
	// full list for the report artifact.
	collector := &failureCollector{inner: action}
	executor := core.NewExecutor(core.ExecutorConfig{
		Concurrency: input.Concurrency,
		Timeout:     input.Timeout,
		Dedupe:      input.Dedupe,
	}, w.metrics, w.logger)
	result, _ := executor.Execute(ctx, stream, collector)

	var reports []ReportArtifact
	if w.store != nil && result.Failed > 0 {
		reports = w.writeReports(ctx, id, record.Action, collector.snapshot())
	}

	if result.Status != domain.StatusAborted {
		if err := w.service.ConsumeToken(ctx, token); err != nil && w.logger != nil {
			w.logger.Warn("consume token failed", "token", token.ID, "error", err.Error())
		}
	}

	w.finish(ctx, id, result, reports)
}

func (w *Worker) transition(ctx context.Context, id string, status JobStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	var snapshot JobRecord
	if ok {
		snapshot = record.copy()
	}
	w.mu.Unlock()
	if ok {
		w.recordAudit(ctx, snapshot, status, nil)
	}
}

func (w *Worker) fail(ctx context.Context, id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if ok {
		record.Status = JobStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	var snapshot JobRecord
	if ok {
		snapshot = record.copy()
	}
	w.mu.Unlock()
	if ok {
		w.recordAudit(ctx, snapshot, JobStatusFailed, map[string]any{"error": reason})
	}
}

func (w *Worker) finish(ctx context.Context, id string, result core.BulkOperationResult, reports []ReportArtifact) {
	status := JobStatusCompleted
	switch result.Status {
	case domain.StatusCompletedWithErrors:
		status = JobStatusCompletedWithErrors
	case domain.StatusAborted:
		status = JobStatusAborted
	}

	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	if ok {
		cloned := result.Clone()
		record.Status = status
		record.Error = result.AbortReason
		record.Result = &cloned
		record.Reports = reports
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	var snapshot JobRecord
	if ok {
		snapshot = record.copy()
	}
	w.mu.Unlock()
	if ok {
		w.recordAudit(ctx, snapshot, status, map[string]any{
			"attempted": result.Attempted,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		})
	}
}

func (w *Worker) recordAudit(ctx context.Context, record JobRecord, status JobStatus, metadata map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     auditActionExecution,
		Actor:      record.RequestedBy,
		Kind:       record.Action,
		TokenID:    record.Token,
		Status:     status,
		Reason:     record.Reason,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	})
}

// writeReports stores the full failure list as JSON and CSV artifacts.
func (w *Worker) writeReports(ctx context.Context, jobID, action string, failures []domain.ItemFailure) []ReportArtifact {
	now := time.Now().UTC()
	var reports []ReportArtifact

	jsonPayload, err := json.Marshal(map[string]any{
		"job_id":   jobID,
		"action":   action,
		"failures": failures,
	})
	if err == nil {
		if artifact, ok := w.putReport(ctx, jobID, "failures.json", "json", "application/json", jsonPayload, now); ok {
			reports = append(reports, artifact)
		}
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	_ = writer.Write([]string{"id", "kind", "reason"})
	for _, f := range failures {
		_ = writer.Write([]string{string(f.ID), f.Kind, f.Reason})
	}
	writer.Flush()
	if writer.Error() == nil {
		if artifact, ok := w.putReport(ctx, jobID, "failures.csv", "csv", "text/csv", buf.Bytes(), now); ok {
			reports = append(reports, artifact)
		}
	}
	return reports
}

func (w *Worker) putReport(ctx context.Context, jobID, name, format, contentType string, payload []byte, now time.Time) (ReportArtifact, bool) {
	key := fmt.Sprintf("reports/%s/%s", jobID, name)
	info, err := w.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"job_id": jobID},
	})
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("store failure report failed", "key", key, "error", err.Error())
		}
		return ReportArtifact{}, false
	}
	url := info.URL
	if signed, err := w.store.PresignURL(ctx, key, blob.SignedURLOptions{}); err == nil && signed != "" {
		url = signed
	}
	return ReportArtifact{
		Key:         key,
		Format:      format,
		ContentType: contentType,
		SizeBytes:   info.Size,
		URL:         url,
		CreatedAt:   now,
	}, true
}

// failureCollector wraps an action and retains every failure, unbounded,
// for report generation.
type failureCollector struct {
	inner core.Action

	mu       sync.Mutex
	failures []domain.ItemFailure
}

func (c *failureCollector) Kind() string { return c.inner.Kind() }

func (c *failureCollector) Apply(ctx context.Context, id domain.RecordID) error {
	err := c.inner.Apply(ctx, id)
	if err != nil {
		kind := "error"
		var actionErr domain.ActionError
		if errors.As(err, &actionErr) {
			kind = actionErr.Kind
		}
		c.mu.Lock()
		c.failures = append(c.failures, domain.ItemFailure{ID: id, Kind: kind, Reason: err.Error()})
		c.mu.Unlock()
	}
	return err
}

func (c *failureCollector) snapshot() []domain.ItemFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ItemFailure, len(c.failures))
	copy(out, c.failures)
	return out
}
