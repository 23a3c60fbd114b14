package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwygoda/imagebatch/internal/batch"
	"github.com/cwygoda/imagebatch/internal/domain"
	"github.com/cwygoda/imagebatch/internal/transform"
)

// Service drives a validated batch through the transform worker and into
// the job store. One Run per job; runs for distinct jobs are independent
// and share no state beyond the repository.
type Service struct {
	repo        domain.JobRepository
	transformer domain.ImageTransformer
	notifier    domain.Notifier
	log         *slog.Logger

	concurrency int
	maxRetries  int
	retryBase   time.Duration
	jobDeadline time.Duration
}

type Option func(*Service)

// WithConcurrency bounds the worker pool for the images of one row.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxRetries sets how often a transient transform failure is retried
// before the image is dropped.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBase sets the first backoff delay; it doubles per attempt.
func WithRetryBase(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryBase = d
		}
	}
}

// WithJobDeadline bounds a whole run. Zero disables the deadline.
func WithJobDeadline(d time.Duration) Option {
	return func(s *Service) {
		s.jobDeadline = d
	}
}

// New creates an orchestrator service.
func New(repo domain.JobRepository, transformer domain.ImageTransformer, notifier domain.Notifier, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		repo:        repo,
		transformer: transformer,
		notifier:    notifier,
		log:         log,
		concurrency: 4,
		maxRetries:  2,
		retryBase:   500 * time.Millisecond,
		jobDeadline: 30 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit validates the batch, creates the job and starts processing in
// the background. Schema errors are returned synchronously; everything
// after the returned job id is observable only via status polling and the
// notifier.
func (s *Service) Submit(ctx context.Context, name string, r io.Reader) (*domain.Job, error) {
	rows, urls, err := batch.Parse(r)
	if err != nil {
		return nil, err
	}

	job, err := s.repo.Create(ctx, name, len(urls))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// The run outlives the submitting request.
	go s.Run(context.WithoutCancel(ctx), job.ID, rows)

	return job, nil
}

// Run drives the rows of one job to completion or failure.
func (s *Service) Run(ctx context.Context, jobID string, rows []batch.Row) {
	if s.jobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobDeadline)
		defer cancel()
	}

	log := s.log.With("job_id", jobID)
	log.Info("run started", "rows", len(rows))

	processed := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			s.failJob(ctx, jobID, "job deadline exceeded")
			return
		}

		item := s.processRow(ctx, jobID, row)

		if err := s.repo.AppendItem(ctx, jobID, item); err != nil {
			log.Error("persisting item failed", "serial", row.SerialNumber, "err", err)
			s.failJob(ctx, jobID, fmt.Sprintf("persisting item %s: %v", row.SerialNumber, err))
			return
		}
		processed += len(row.InputImageURLs)
		if err := s.repo.AdvanceStatus(ctx, jobID, domain.StatusProcessing, processed); err != nil {
			log.Error("advancing status failed", "err", err)
			s.failJob(ctx, jobID, fmt.Sprintf("advancing status: %v", err))
			return
		}

		failed := len(item.Images) - len(item.OutputURLs())
		if failed > 0 {
			s.notifier.Notify(ctx, "ImageProcessing", domain.NotifyInProgress,
				fmt.Sprintf("row %s: %d of %d images failed", row.SerialNumber, failed, len(item.Images)))
		} else {
			s.notifier.Notify(ctx, "ImageProcessing", domain.NotifyCompleted, row.SerialNumber)
		}
	}

	if ctx.Err() != nil {
		s.failJob(ctx, jobID, "job deadline exceeded")
		return
	}

	if err := s.repo.AdvanceStatus(ctx, jobID, domain.StatusCompleted, processed); err != nil {
		log.Error("completing job failed", "err", err)
		s.failJob(ctx, jobID, fmt.Sprintf("completing job: %v", err))
		return
	}
	s.notifier.Notify(ctx, "Batch", domain.NotifyCompleted, jobID)
	log.Info("run completed", "processed", processed)
}

// processRow transforms the row's images under a bounded worker pool.
// Each in-flight transform writes its result into its source index slot,
// so output order always matches input order.
func (s *Service) processRow(ctx context.Context, jobID string, row batch.Row) domain.Item {
	results := make([]domain.ImageResult, len(row.InputImageURLs))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for i, url := range row.InputImageURLs {
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			stored, err := s.transformWithRetry(ctx, url, artifactName(row.SerialNumber, idx))
			if err != nil {
				s.log.Warn("image dropped", "job_id", jobID, "serial", row.SerialNumber, "url", url, "err", err)
				s.notifier.Notify(ctx, "ImageProcessing", domain.NotifyFailed, url)
				results[idx] = domain.ImageResult{
					InputURL: url,
					Status:   domain.ImageFailed,
					Error:    err.Error(),
				}
				return
			}
			results[idx] = domain.ImageResult{
				InputURL:  url,
				OutputURL: stored,
				Status:    domain.ImageOK,
			}
		}(i, url)
	}
	wg.Wait()

	return domain.Item{
		SerialNumber: row.SerialNumber,
		ProductName:  row.ProductName,
		Images:       results,
	}
}

// transformWithRetry retries transient stage failures with exponential
// backoff until retries are exhausted or the context is done.
func (s *Service) transformWithRetry(ctx context.Context, url, name string) (string, error) {
	var lastErr error
	backoff := s.retryBase
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		stored, err := s.transformer.Transform(ctx, url, name)
		if err == nil {
			return stored, nil
		}
		lastErr = err

		var se *transform.StageError
		if !errors.As(err, &se) || !se.Transient {
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}
		s.log.Debug("retrying image", "url", url, "attempt", attempt+1, "err", err)
	}
	return "", lastErr
}

// failJob moves the job to failed and notifies. It uses a detached
// context so an expired run deadline cannot block the failure record.
func (s *Service) failJob(ctx context.Context, jobID, reason string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.repo.Fail(fctx, jobID, reason); err != nil {
		s.log.Error("recording job failure failed", "job_id", jobID, "err", err)
	}
	s.notifier.Notify(fctx, "Batch", domain.NotifyFailed, reason)
}

// artifactName builds the deterministic per-image artifact name, kept
// filesystem safe.
func artifactName(serial string, idx int) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, serial)
	return fmt.Sprintf("image-%s-%d", clean, idx)
}
