package core

import (
	"context"
	"errors"
	"fmt"

	"selectcore/pkg/domain"
)

// DefaultBatchSize bounds how many IDs a stream emits per pull. Batches
// keep memory flat regardless of how large the matching set is.
const DefaultBatchSize = 1000

// Stream is a finite, pull-based sequence of record IDs produced by one
// resolution. It is not restartable; resolve again to re-stream (which is
// only deterministic under a pinned basis).
type Stream struct {
	next    func(ctx context.Context) ([]RecordID, error)
	closeFn func() error
	emitted int
	done    bool
}

// Next returns the next batch in stable sort order, or (nil, nil) when the
// stream is exhausted. A mid-stream store failure surfaces as
// ResolutionInterruptedError carrying the emitted count.
func (s *Stream) Next(ctx context.Context) ([]RecordID, error) {
	if s.done {
		return nil, nil
	}
	batch, err := s.next(ctx)
	if err != nil {
		s.done = true
		var interrupted domain.ResolutionInterruptedError
		if errors.As(err, &interrupted) {
			interrupted.Emitted = s.emitted
			return nil, interrupted
		}
		return nil, domain.ResolutionInterruptedError{Emitted: s.emitted, Err: err}
	}
	if len(batch) == 0 {
		s.done = true
		return nil, nil
	}
	s.emitted += len(batch)
	return batch, nil
}

// Emitted reports how many IDs the stream has produced so far.
func (s *Stream) Emitted() int { return s.emitted }

// Close releases the underlying cursor. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.closeFn == nil {
		return nil
	}
	fn := s.closeFn
	s.closeFn = nil
	return fn()
}

// Resolver turns a (filter, selection, basis) tuple into a concrete ID
// stream against a record store.
type Resolver struct {
	records   RecordStore
	batchSize int
}

// NewResolver constructs a resolver. batchSize <= 0 selects the default.
func NewResolver(records RecordStore, batchSize int) *Resolver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Resolver{records: records, batchSize: batchSize}
}

// Resolve validates the filter and opens a stream for the token's
// selection under its snapshot basis.
//
// Manual mode is special-cased: the include set is small (a page's worth
// of rows), so each ID is validated directly against the filter instead of
// scanning the candidate stream. All mode streams candidates from the
// store and drops the excluded IDs batch by batch.
func (r *Resolver) Resolve(ctx context.Context, token SelectionToken) (*Stream, error) {
	if err := token.Filter.Validate(r.records.Schema()); err != nil {
		return nil, err
	}

	switch sel := token.Selection.(type) {
	case domain.Manual:
		return r.resolveManual(ctx, token.Filter, sel, token.Basis)
	case domain.All:
		return r.resolveAll(ctx, token.Filter, sel, token.Basis)
	default:
		return nil, fmt.Errorf("resolve: unknown selection variant %T", token.Selection)
	}
}

func (r *Resolver) resolveManual(ctx context.Context, filter FilterDescriptor, sel domain.Manual, basis SnapshotBasis) (*Stream, error) {
	ids := sel.ActiveIDs()
	matched := make([]RecordID, 0, len(ids))
	for _, id := range ids {
		ok, err := r.records.Matches(ctx, filter, basis, id)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, id)
		}
	}

	offset := 0
	batchSize := r.batchSize
	return &Stream{
		next: func(context.Context) ([]RecordID, error) {
			if offset >= len(matched) {
				return nil, nil
			}
			end := offset + batchSize
			if end > len(matched) {
				end = len(matched)
			}
			batch := matched[offset:end]
			offset = end
			return batch, nil
		},
	}, nil
}

func (r *Resolver) resolveAll(ctx context.Context, filter FilterDescriptor, sel domain.All, basis SnapshotBasis) (*Stream, error) {
	cursor, err := r.records.Evaluate(ctx, filter, basis, r.batchSize)
	if err != nil {
		return nil, err
	}
	return &Stream{
		next: func(ctx context.Context) ([]RecordID, error) {
			// Drain store batches until one survives exclusion; otherwise
			// a heavily excluded prefix would look like stream end.
			for {
				batch, err := cursor.Next(ctx)
				if err != nil {
					return nil, err
				}
				if len(batch) == 0 {
					return nil, nil
				}
				kept := make([]RecordID, 0, len(batch))
				for _, id := range batch {
					if !sel.Excludes(id) {
						kept = append(kept, id)
					}
				}
				if len(kept) > 0 {
					return kept, nil
				}
			}
		},
		closeFn: cursor.Close,
	}, nil
}
