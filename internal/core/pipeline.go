package core

// pipeline.go drives one job from its initial snapshot to a terminal one.
//
// Every record becomes one unit of work submitted to the shared Limiter. A
// unit calls the Validator once, classifies the outcome, and settles it into
// the job's tracker, which writes a fresh full snapshot to the Store. Units
// never abort the batch: an invalid verdict and a validator error both land
// in FailedRecords. Only a fault in the orchestration itself (a failed store
// write, a panic outside the validator call) drives the job to failed.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Pipeline validates batches of records through a Limiter and records
// progress in a Store.
type Pipeline struct {
	store     Store
	validator Validator
	limiter   *Limiter
	now       func() time.Time
}

// NewPipeline wires a pipeline. now may be nil, in which case time.Now is used.
func NewPipeline(store Store, validator Validator, limiter *Limiter, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		store:     store,
		validator: validator,
		limiter:   limiter,
		now:       now,
	}
}

// jobTracker holds the live counters for one job. mu serializes the
// read-increment-write of each settle so store snapshots are monotonic.
type jobTracker struct {
	mu       sync.Mutex
	snap     Snapshot
	settled  int
	terminal bool
}

// Run validates records for the job whose initial snapshot is initial and
// returns the terminal snapshot it wrote. The returned error is non-nil only
// for orchestration faults; the job is then stored as failed.
func (p *Pipeline) Run(ctx context.Context, initial Snapshot, records []Record, logger *slog.Logger) (Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tracker := &jobTracker{snap: initial.Clone()}
	if tracker.snap.FailedRecords == nil {
		tracker.snap.FailedRecords = []FailedRecord{}
	}

	var g errgroup.Group
	for _, rec := range records {
		g.Go(func() (err error) {
			// errgroup does not recover; a panic here would take the process down.
			defer func() {
				if r := recover(); r != nil {
					err = errors.Newf("panic in record unit: %v", r)
				}
			}()
			return p.limiter.Do(ctx, func() error {
				return p.settle(ctx, tracker, rec)
			})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("validation pipeline failed", "error", err)
		return p.fail(ctx, tracker, err)
	}
	return p.complete(ctx, tracker)
}

// settle validates one record and writes the updated snapshot.
func (p *Pipeline) settle(ctx context.Context, t *jobTracker, rec Record) error {
	reason, ok := p.classify(ctx, rec)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal {
		return nil
	}

	t.settled++
	if !ok {
		t.snap.FailedRecords = append(t.snap.FailedRecords, FailedRecord{
			Name:  rec.Name,
			Email: rec.Email,
			Error: reason,
		})
	}
	t.snap.ProcessedRecords = t.settled
	t.snap.Progress = FormatProgress(t.settled, t.snap.TotalRecords)

	if err := p.store.Put(ctx, t.snap.UploadID, t.snap); err != nil {
		return errors.Wrap(err, "store progress")
	}
	return nil
}

// classify calls the validator and reports whether the record passed and,
// if not, why. A validator panic counts as that record's failure.
func (p *Pipeline) classify(ctx context.Context, rec Record) (reason string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			reason, ok = fmt.Sprintf("validator panic: %v", r), false
		}
	}()

	verdict, err := p.validator.Validate(ctx, rec)
	switch {
	case err != nil:
		return err.Error(), false
	case !verdict.Valid:
		if verdict.Reason == "" {
			return ReasonInvalidEmail, false
		}
		return verdict.Reason, false
	default:
		return "", true
	}
}

// complete writes the completed snapshot. ProcessedRecords switches from
// "settled" to "succeeded" here.
func (p *Pipeline) complete(ctx context.Context, t *jobTracker) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := p.now()
	t.terminal = true
	t.snap.Status = StatusCompleted
	t.snap.ProcessedRecords = t.settled - len(t.snap.FailedRecords)
	t.snap.Progress = FormatProgress(t.settled, t.snap.TotalRecords)
	t.snap.CompletedAt = &now

	final := t.snap.Clone()
	if err := p.store.Put(ctx, final.UploadID, final); err != nil {
		return final, errors.Wrap(err, "store completed snapshot")
	}
	return final, nil
}

// fail writes the failed snapshot with whatever counts had accumulated.
func (p *Pipeline) fail(ctx context.Context, t *jobTracker, cause error) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := p.now()
	t.terminal = true
	t.snap.Status = StatusFailed
	t.snap.Error = cause.Error()
	t.snap.ProcessedRecords = t.settled
	t.snap.Progress = FormatProgress(t.settled, t.snap.TotalRecords)
	t.snap.CompletedAt = &now

	final := t.snap.Clone()
	if err := p.store.Put(ctx, final.UploadID, final); err != nil {
		return final, errors.CombineErrors(cause, errors.Wrap(err, "store failed snapshot"))
	}
	return final, cause
}
