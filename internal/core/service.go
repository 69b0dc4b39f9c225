package core

import (
	"context"
	"time"

	"selectcore/pkg/domain"
)

// DefaultTokenTTL bounds how long a selection token stays resolvable.
const DefaultTokenTTL = 15 * time.Minute

// Service exposes the selection lifecycle: issue a token for a (filter,
// selection) pair, estimate its size, resolve it to a stream, and consume
// it after a bulk execution.
type Service struct {
	tokens   TokenStore
	records  RecordStore
	resolver *Resolver

	ttl     time.Duration
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	nowFn   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics injects a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer injects a tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithTokenTTL overrides the default token TTL.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBatchSize overrides the resolver's batch size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.resolver = NewResolver(s.records, n)
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a service over the supplied stores.
func NewService(tokens TokenStore, records RecordStore, opts ...Option) *Service {
	s := &Service{
		tokens:   tokens,
		records:  records,
		resolver: NewResolver(records, 0),
		ttl:      DefaultTokenTTL,
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver returns the service's resolver for callers that manage their
// own execution loop.
func (s *Service) Resolver() *Resolver { return s.resolver }

// CreateSelectionInput carries the client-owned selection state into token
// creation.
type CreateSelectionInput struct {
	Filter    FilterDescriptor
	Selection Selection
	// Pin fixes resolution to a snapshot captured at creation time.
	// Without it the token resolves against live data.
	Pin bool
	// SingleUse deletes the token on first successful consumption.
	SingleUse bool
}

// CreateSelection validates the filter, captures a snapshot when pinning
// is requested, and issues a fresh token. Token creation is lazy by
// design: clients call this once a bulk action is actually invoked, never
// per row toggle.
func (s *Service) CreateSelection(ctx context.Context, input CreateSelectionInput) (token SelectionToken, err error) {
	done := s.observe(ctx, "create_selection", s.nowFn())
	defer func() { done(err) }()

	if err = input.Filter.Validate(s.records.Schema()); err != nil {
		return SelectionToken{}, err
	}
	sel := input.Selection
	if sel == nil {
		sel = domain.NewSelection()
	}

	basis := domain.LiveBasis()
	if input.Pin {
		version, pinErr := s.records.Pin(ctx)
		if pinErr != nil {
			err = pinErr
			return SelectionToken{}, err
		}
		basis = domain.PinnedBasis(version)
	}

	now := s.nowFn()
	token = SelectionToken{
		ID:        domain.NewTokenID(),
		Filter:    input.Filter.Clone(),
		Selection: sel,
		Basis:     basis,
		SingleUse: input.SingleUse,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err = s.tokens.Create(ctx, token); err != nil {
		return SelectionToken{}, err
	}
	s.logger.Debug("selection token created", "token", token.ID, "mode", string(sel.Mode()), "basis", string(basis.Kind))
	return token, nil
}

// ResolveToken fetches the immutable tuple behind a token ID.
func (s *Service) ResolveToken(ctx context.Context, id string) (token SelectionToken, err error) {
	done := s.observe(ctx, "resolve_token", s.nowFn())
	defer func() { done(err) }()
	token, err = s.tokens.Resolve(ctx, id)
	return token, err
}

// EstimateCount returns the advisory selected-record count for a token.
// The underlying matching total may be stale by display time; the final
// attempted count of an execution is authoritative.
func (s *Service) EstimateCount(ctx context.Context, id string) (estimate int, err error) {
	done := s.observe(ctx, "estimate_count", s.nowFn())
	defer func() { done(err) }()

	token, err := s.tokens.Resolve(ctx, id)
	if err != nil {
		return 0, err
	}
	total, err := s.records.Count(ctx, token.Filter, token.Basis)
	if err != nil {
		return 0, err
	}
	return token.Selection.EstimatedCount(total), nil
}

// InvalidateSelection removes a token early. Idempotent.
func (s *Service) InvalidateSelection(ctx context.Context, id string) (err error) {
	done := s.observe(ctx, "invalidate_selection", s.nowFn())
	defer func() { done(err) }()
	err = s.tokens.Invalidate(ctx, id)
	return err
}

// OpenStream resolves the token and opens its ID stream in one step.
func (s *Service) OpenStream(ctx context.Context, id string) (token SelectionToken, stream *Stream, err error) {
	done := s.observe(ctx, "open_stream", s.nowFn())
	defer func() { done(err) }()

	token, err = s.tokens.Resolve(ctx, id)
	if err != nil {
		return SelectionToken{}, nil, err
	}
	stream, err = s.resolver.Resolve(ctx, token)
	if err != nil {
		return SelectionToken{}, nil, err
	}
	return token, stream, nil
}

// ConsumeToken applies single-use semantics after a successful execution:
// single-use tokens are invalidated, others stay resolvable until expiry.
func (s *Service) ConsumeToken(ctx context.Context, token SelectionToken) error {
	if !token.SingleUse {
		return nil
	}
	return s.tokens.Invalidate(ctx, token.ID)
}

// observe wraps an operation with tracing, metrics, and error logging.
// Callers capture the returned func and defer it around a named error.
func (s *Service) observe(ctx context.Context, operation string, start time.Time) func(error) {
	_, span := s.tracer.Start(ctx, operation)
	return func(err error) {
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, s.nowFn().Sub(start))
		if err != nil {
			s.logger.Warn("operation failed", "operation", operation, "error", err.Error())
		}
	}
}
