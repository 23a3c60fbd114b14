package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cwygoda/imagebatch/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'created',
    processed  INTEGER NOT NULL DEFAULT 0,
    total      INTEGER NOT NULL DEFAULT 0,
    error      TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS job_items (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id        TEXT NOT NULL REFERENCES jobs(id),
    serial_number TEXT NOT NULL,
    product_name  TEXT NOT NULL,
    images        TEXT NOT NULL,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_job_items_job ON job_items(job_id);
`

// imageRecord is the persisted shape of one image result inside the
// item's images column.
type imageRecord struct {
	InputURL  string `json:"input_url"`
	OutputURL string `json:"output_url,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Repository implements domain.JobRepository using SQLite. Items are
// stored one row per append, so concurrent appends never clobber each
// other.
type Repository struct {
	db  *sql.DB
	sq  sq.StatementBuilderType
	log *slog.Logger
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string, log *slog.Logger) (*Repository, error) {
	if log == nil {
		log = slog.Default()
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serializing connections avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{
		db:  db,
		sq:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		log: log,
	}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new job with status created and no items.
func (r *Repository) Create(ctx context.Context, name string, total int) (*domain.Job, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	q := r.sq.Insert("jobs").
		Columns("id", "name", "status", "processed", "total", "created_at", "updated_at").
		Values(id, name, domain.StatusCreated, 0, total, now, now)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, err
	}

	r.log.Info("job created", "job_id", id, "name", name, "total", total)
	return &domain.Job{
		ID:        id,
		Name:      name,
		Status:    domain.StatusCreated,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get retrieves a job with its items in append order.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	q := r.sq.Select("id", "name", "status", "processed", "total", "COALESCE(error, '')", "created_at", "updated_at").
		From("jobs").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var job domain.Job
	var status string
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	err = row.Scan(&job.ID, &job.Name, &status, &job.Processed, &job.Total, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)

	items, err := r.items(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Items = items
	return &job, nil
}

func (r *Repository) items(ctx context.Context, jobID string) ([]domain.Item, error) {
	q := r.sq.Select("serial_number", "product_name", "images").
		From("job_items").Where(sq.Eq{"job_id": jobID}).OrderBy("id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		var images string
		if err := rows.Scan(&item.SerialNumber, &item.ProductName, &images); err != nil {
			return nil, err
		}
		var recs []imageRecord
		if err := json.Unmarshal([]byte(images), &recs); err != nil {
			return nil, fmt.Errorf("decode item images: %w", err)
		}
		for _, rec := range recs {
			item.Images = append(item.Images, domain.ImageResult{
				InputURL:  rec.InputURL,
				OutputURL: rec.OutputURL,
				Status:    domain.ImageStatus(rec.Status),
				Error:     rec.Error,
			})
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AppendItem atomically appends one item to the job.
func (r *Repository) AppendItem(ctx context.Context, id string, item domain.Item) error {
	recs := make([]imageRecord, len(item.Images))
	for i, img := range item.Images {
		recs[i] = imageRecord{
			InputURL:  img.InputURL,
			OutputURL: img.OutputURL,
			Status:    string(img.Status),
			Error:     img.Error,
		}
	}
	images, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode item images: %w", err)
	}

	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	touch := r.sq.Update("jobs").Set("updated_at", now).Where(sq.Eq{"id": id})
	sqlStr, args, err := touch.ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return domain.ErrJobNotFound
	}

	ins := r.sq.Insert("job_items").
		Columns("job_id", "serial_number", "product_name", "images", "created_at").
		Values(id, item.SerialNumber, item.ProductName, string(images), now)
	sqlStr, args, err = ins.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return err
	}

	return tx.Commit()
}

// AdvanceStatus sets status and the processed counter. Terminal jobs are
// never modified; the guard lives in the WHERE clause so concurrent
// writers cannot race past it.
func (r *Repository) AdvanceStatus(ctx context.Context, id string, status domain.JobStatus, processed int) error {
	q := r.sq.Update("jobs").
		Set("status", status).
		Set("processed", processed).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": []string{string(domain.StatusCompleted), string(domain.StatusFailed)}})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrTerminalStatus
	}
	return nil
}

// Fail moves the job to failed, recording the reason.
func (r *Repository) Fail(ctx context.Context, id string, reason string) error {
	q := r.sq.Update("jobs").
		Set("status", domain.StatusFailed).
		Set("error", reason).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": []string{string(domain.StatusCompleted), string(domain.StatusFailed)}})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrTerminalStatus
	}

	r.log.Warn("job failed", "job_id", id, "reason", reason)
	return nil
}
