package domain

import (
	"context"
	"errors"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrTerminalStatus = errors.New("job already in terminal status")
)

// JobRepository is the driven port for job persistence. All mutations on
// the same job id must be atomic with respect to concurrent callers.
type JobRepository interface {
	// Create inserts a new job with status created and no items. Total is
	// the number of images the batch will attempt.
	Create(ctx context.Context, name string, total int) (*Job, error)
	// Get returns the job with its items in append order.
	Get(ctx context.Context, id string) (*Job, error)
	// AppendItem atomically appends one item. Concurrent appends to the
	// same job must all survive.
	AppendItem(ctx context.Context, id string, item Item) error
	// AdvanceStatus sets status and the processed counter. It refuses to
	// leave a terminal status.
	AdvanceStatus(ctx context.Context, id string, status JobStatus, processed int) error
	// Fail moves the job to failed, recording the reason.
	Fail(ctx context.Context, id string, reason string) error
}

// ImageTransformer is the driven port for the fetch/recompress/store
// pipeline of a single image. name is the artifact name for local and
// stored resources; the returned string is the durable stored URL.
type ImageTransformer interface {
	Transform(ctx context.Context, url, name string) (string, error)
}

// NotifyStatus is the coarse status vocabulary of the outbound webhook.
type NotifyStatus string

const (
	NotifyInProgress NotifyStatus = "InProgress"
	NotifyCompleted  NotifyStatus = "Completed"
	NotifyFailed     NotifyStatus = "Failed"
)

// Notifier is a best-effort status broadcaster. Implementations must not
// block beyond a short timeout and must never return delivery failures to
// the caller.
type Notifier interface {
	Notify(ctx context.Context, process string, status NotifyStatus, message string)
}
