package cli

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"selectcore/internal/adapters/bulkactions"
	"selectcore/internal/blob"
	"selectcore/internal/core"
	recordmemory "selectcore/internal/infra/recordstore/memory"
	"selectcore/pkg/domain"
)

// ServeOptions holds serve command flags.
type ServeOptions struct {
	Addr          string
	SchemaPath    string
	SeedPath      string
	BatchSize     int
	SyncThreshold int
	TraceLog      string
	Expvar        bool
}

// NewServeCommand runs the HTTP server.
func NewServeCommand(root *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the selection resolution server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.SchemaPath, "schema", "", "path to a JSON schema file (field name to kind)")
	cmd.Flags().StringVar(&opts.SeedPath, "seed", "", "path to a JSON records file loaded at startup")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", core.DefaultBatchSize, "resolution batch size")
	cmd.Flags().IntVar(&opts.SyncThreshold, "sync-threshold", bulkactions.DefaultSyncThreshold, "max estimated selection size for synchronous execution")
	cmd.Flags().StringVar(&opts.TraceLog, "trace-log", "", "append operation trace spans as JSON lines to this file")
	cmd.Flags().BoolVar(&opts.Expvar, "expvar", false, "publish aggregate metrics under /debug/vars")

	return cmd
}

func runServe(cmd *cobra.Command, root *RootOptions, opts *ServeOptions) error {
	logger, flush, err := NewLogger(root.Verbose)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema, err := loadSchema(opts.SchemaPath)
	if err != nil {
		return err
	}
	records := recordmemory.NewStore(schema)
	if opts.SeedPath != "" {
		if err := seedRecords(records, opts.SeedPath); err != nil {
			return err
		}
	}

	tokens, err := core.OpenTokenStore()
	if err != nil {
		return err
	}
	defer func() { _ = tokens.Close() }()

	artifacts, err := blob.Open(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder := core.NewPrometheusMetricsRecorder(registry)

	var metrics core.MetricsRecorder = recorder
	if opts.Expvar {
		metrics = teeMetrics{recorder, core.NewExpvarMetricsRecorder("selection_service")}
	}

	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithTokenTTL(core.TokenTTLFromEnv()),
		core.WithBatchSize(opts.BatchSize),
	}
	if opts.TraceLog != "" {
		traceFile, err := os.OpenFile(opts.TraceLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open trace log: %w", err)
		}
		defer func() { _ = traceFile.Close() }()
		serviceOpts = append(serviceOpts, core.WithTracer(core.NewJSONTracer(traceFile)))
	}

	service := core.NewService(tokens, records, serviceOpts...)

	actions := bulkactions.NewRegistry()
	bulkactions.RegisterBuiltinActions(actions, records)

	worker := bulkactions.NewWorker(service, actions, artifacts,
		bulkactions.WithAudit(&bulkactions.MemoryAuditLog{}),
		bulkactions.WithExecutionMetrics(recorder),
		bulkactions.WithWorkerLogger(logger),
	)
	worker.Start()

	api := bulkactions.NewHandler(service, worker, actions)
	api.SyncThreshold = opts.SyncThreshold

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if opts.Expvar {
		mux.Handle("/debug/vars", expvar.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: opts.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", opts.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = stopWorker(worker)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err.Error())
	}
	if err := stopWorker(worker); err != nil {
		logger.Warn("worker shutdown", "error", err.Error())
	}
	return nil
}

// teeMetrics fans service observations out to every recorder in the slice.
type teeMetrics []core.MetricsRecorder

func (t teeMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range t {
		r.Observe(ctx, operation, success, duration)
	}
}

func stopWorker(worker *bulkactions.Worker) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return worker.Stop(ctx)
}

// defaultSchema serves demos and smoke tests when no schema file is given.
var defaultSchema = domain.Schema{
	"status":   domain.FieldString,
	"owner":    domain.FieldString,
	"size":     domain.FieldNumber,
	"archived": domain.FieldBool,
	"created":  domain.FieldTime,
}

func loadSchema(path string) (domain.Schema, error) {
	if path == "" {
		return defaultSchema, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schema domain.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema %s defines no fields", path)
	}
	return schema, nil
}

func seedRecords(store *recordmemory.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed records: %w", err)
	}
	var records []domain.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parse seed records: %w", err)
	}
	for _, record := range records {
		store.Put(record)
	}
	return nil
}
