package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	// Concurrency bounds in-flight validator calls across all jobs.
	Concurrency int

	// Now overrides the clock used for CreatedAt/CompletedAt.
	Now func() time.Time

	// NewID overrides upload id generation.
	NewID func() string

	// Logger is the base logger for background jobs.
	Logger *slog.Logger
}

// Service is the job submission and status interface. Submit returns as soon
// as the job exists; validation runs on a detached goroutine and is observed
// only through Status.
type Service struct {
	store    Store
	pipeline *Pipeline
	limiter  *Limiter
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger

	jobs sync.WaitGroup
}

// NewService creates a Service over store and validator.
func NewService(store Store, validator Validator, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if validator == nil {
		return nil, errors.New("validator is nil")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter := NewLimiter(opts.Concurrency)
	return &Service{
		store:    store,
		pipeline: NewPipeline(store, validator, limiter, opts.Now),
		limiter:  limiter,
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   opts.Logger,
	}, nil
}

// Submit creates a job for records and schedules its validation without
// waiting for it. Returns ErrEmptyBatch (and creates nothing) if records is
// empty.
func (s *Service) Submit(ctx context.Context, records []Record) (SubmitResult, error) {
	if len(records) == 0 {
		return SubmitResult{}, errors.WithHint(ErrEmptyBatch, "Upload a file with at least one data row")
	}

	id := s.newID()
	initial := Snapshot{
		UploadID:         id,
		Status:           StatusProcessing,
		TotalRecords:     len(records),
		ProcessedRecords: 0,
		FailedRecords:    []FailedRecord{},
		Progress:         FormatProgress(0, len(records)),
		CreatedAt:        s.now(),
	}
	if err := s.store.Put(ctx, id, initial); err != nil {
		return SubmitResult{}, errors.Wrap(err, "create job")
	}

	logger := loggerFromContext(ctx, s.logger).With(
		"upload_id", id,
		"total_records", len(records),
		"ip", GetIPAddressFromContext(ctx),
		"user_agent", GetUserAgentFromContext(ctx),
	)
	logger.Info("validation job submitted")

	// Records are copied so the caller may reuse its slice.
	batch := make([]Record, len(records))
	copy(batch, records)

	// Request cancellation must not stop the job; context values are kept.
	jobCtx := context.WithoutCancel(ctx)

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in validation job", "panic", r)
				s.markPanicked(jobCtx, initial, r)
			}
		}()

		start := time.Now()
		final, err := s.pipeline.Run(jobCtx, initial, batch, logger)
		if err != nil {
			logger.Error("validation job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		logger.Info("validation job completed",
			"succeeded", final.ProcessedRecords,
			"failed", len(final.FailedRecords),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return SubmitResult{UploadID: id, TotalRecords: len(records)}, nil
}

// Status returns the current snapshot for id, or ErrJobNotFound.
func (s *Service) Status(ctx context.Context, id string) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, errors.Wrap(ErrJobNotFound, "empty upload id")
	}
	return s.store.Get(ctx, id)
}

// Wait blocks until every submitted job has reached a terminal status, or
// ctx is done. In-flight validator calls drain first.
func (s *Service) Wait(ctx context.Context) error {
	if err := s.limiter.WaitForDrain(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LimiterStatus returns the validation limiter state.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// markPanicked stores a failed snapshot for a job whose goroutine panicked
// outside the pipeline's own fault handling. A job that already reached a
// terminal status is left untouched.
func (s *Service) markPanicked(ctx context.Context, initial Snapshot, r any) {
	current, err := s.store.Get(ctx, initial.UploadID)
	if err != nil {
		current = initial
	}
	if current.Status.Terminal() {
		return
	}
	now := s.now()
	current.Status = StatusFailed
	current.Error = fmt.Sprintf("internal error: %v", r)
	current.CompletedAt = &now
	if err := s.store.Put(ctx, current.UploadID, current); err != nil {
		s.logger.Error("failed to store panicked job", "upload_id", current.UploadID, "error", err)
	}
}
