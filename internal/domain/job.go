package domain

import "time"

// JobStatus represents the processing state of a batch job. The enum is
// closed; progress is carried by the Processed/Total counters, not by the
// status string.
type JobStatus string

const (
	StatusCreated    JobStatus = "created"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal returns true once the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the state machine. Unknown statuses rank
// lowest so they never mask a regression.
func (s JobStatus) rank() int {
	switch s {
	case StatusCreated:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return 0
}

// CanAdvance reports whether moving to next respects the monotonic state
// machine: created -> processing -> completed|failed, terminal is final.
func (s JobStatus) CanAdvance(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// ImageStatus marks the outcome of one image transformation.
type ImageStatus string

const (
	ImageOK     ImageStatus = "ok"
	ImageFailed ImageStatus = "failed"
)

// ImageResult records the outcome for one input image URL. Results stay
// aligned index-for-index with the row's input list, so a failed image
// keeps its slot instead of silently shifting later outputs.
type ImageResult struct {
	InputURL  string
	OutputURL string
	Status    ImageStatus
	Error     string
}

// Item is one row's worth of input/output image associations. Items are
// owned by their Job and are append-only once persisted.
type Item struct {
	SerialNumber string
	ProductName  string
	Images       []ImageResult
}

// InputURLs returns the row's source image URLs in submission order.
func (it *Item) InputURLs() []string {
	urls := make([]string, len(it.Images))
	for i, img := range it.Images {
		urls[i] = img.InputURL
	}
	return urls
}

// OutputURLs returns the transformed image URLs for the images that
// succeeded, preserving input order. Failed images are omitted, so the
// result is never longer than InputURLs.
func (it *Item) OutputURLs() []string {
	urls := make([]string, 0, len(it.Images))
	for _, img := range it.Images {
		if img.Status == ImageOK {
			urls = append(urls, img.OutputURL)
		}
	}
	return urls
}

// Job represents one submitted batch and its processing progress.
type Job struct {
	ID        string
	Name      string
	Items     []Item
	Status    JobStatus
	Processed int
	Total     int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
