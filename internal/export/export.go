// Package export renders completed jobs back to CSV.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwygoda/imagebatch/internal/domain"
)

// NotReadyError reports that a job cannot be exported yet because it has
// not completed.
type NotReadyError struct {
	Status domain.JobStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job is %s, export requires completed", e.Status)
}

// Service builds CSV exports from persisted jobs.
type Service struct {
	repo domain.JobRepository
	log  *slog.Logger
}

// New creates an export service.
func New(repo domain.JobRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log}
}

var header = []string{"Serial Number", "Product Name", "Input Image Urls", "Output Image Urls"}

// Export renders the job's items as a CSV document mirroring the upload
// format, with one extra column holding the stored image urls. It returns
// the document and a suggested download filename.
//
// Jobs that are not completed yield a *NotReadyError; unknown ids yield
// domain.ErrJobNotFound.
func (s *Service) Export(ctx context.Context, id string) ([]byte, string, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != domain.StatusCompleted {
		return nil, "", &NotReadyError{Status: job.Status}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, "", fmt.Errorf("write header: %w", err)
	}
	for _, item := range job.Items {
		rec := []string{
			item.SerialNumber,
			item.ProductName,
			strings.Join(item.InputURLs(), ", "),
			strings.Join(item.OutputURLs(), ", "),
		}
		if err := w.Write(rec); err != nil {
			return nil, "", fmt.Errorf("write item %s: %w", item.SerialNumber, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("flush: %w", err)
	}

	s.log.Debug("export rendered", "job_id", id, "items", len(job.Items), "bytes", buf.Len())
	return buf.Bytes(), filename(job.Name), nil
}

// filename derives the download name from the uploaded one.
func filename(name string) string {
	base := strings.TrimSuffix(name, ".csv")
	if base == "" {
		base = "batch"
	}
	return base + "_processed.csv"
}
