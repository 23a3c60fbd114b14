package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cwygoda/imagebatch/internal/domain"
)

func setupTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	repo, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cleanup := func() {
		repo.Close()
		os.Remove(dbPath)
	}
	return repo, cleanup
}

func TestRepository_Create(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()

	job, err := repo.Create(ctx, "products.csv", 5)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if job.ID == "" {
		t.Error("Create() job.ID is empty")
	}
	if job.Name != "products.csv" {
		t.Errorf("Create() job.Name = %q, want products.csv", job.Name)
	}
	if job.Status != domain.StatusCreated {
		t.Errorf("Create() job.Status = %q, want created", job.Status)
	}
	if job.Total != 5 {
		t.Errorf("Create() job.Total = %d, want 5", job.Total)
	}
	if len(job.Items) != 0 {
		t.Errorf("Create() job.Items = %v, want empty", job.Items)
	}
}

func TestRepository_Get(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	created, err := repo.Create(ctx, "products.csv", 2)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	job, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.ID != created.ID {
		t.Errorf("Get() job.ID = %q, want %q", job.ID, created.ID)
	}
	if job.Status != domain.StatusCreated {
		t.Errorf("Get() job.Status = %q, want created", job.Status)
	}

	_, err = repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestRepository_AppendItem(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	created, _ := repo.Create(ctx, "products.csv", 3)

	items := []domain.Item{
		{
			SerialNumber: "1",
			ProductName:  "Desk",
			Images: []domain.ImageResult{
				{InputURL: "http://img/a.jpg", OutputURL: "http://cdn/a.jpg", Status: domain.ImageOK},
				{InputURL: "http://img/b.jpg", Status: domain.ImageFailed, Error: "fetch: 404"},
			},
		},
		{
			SerialNumber: "2",
			ProductName:  "Chair",
			Images: []domain.ImageResult{
				{InputURL: "http://img/c.jpg", OutputURL: "http://cdn/c.jpg", Status: domain.ImageOK},
			},
		},
	}

	for _, item := range items {
		if err := repo.AppendItem(ctx, created.ID, item); err != nil {
			t.Fatalf("AppendItem() error = %v", err)
		}
	}

	job, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(job.Items) != 2 {
		t.Fatalf("Get() items = %d, want 2", len(job.Items))
	}
	if job.Items[0].SerialNumber != "1" || job.Items[1].SerialNumber != "2" {
		t.Errorf("items out of append order: %q, %q", job.Items[0].SerialNumber, job.Items[1].SerialNumber)
	}
	if got := job.Items[0].Images[1].Error; got != "fetch: 404" {
		t.Errorf("Images[1].Error = %q, want fetch: 404", got)
	}
	if outs := job.Items[0].OutputURLs(); len(outs) != 1 || outs[0] != "http://cdn/a.jpg" {
		t.Errorf("OutputURLs() = %v", outs)
	}

	// Append to unknown job
	err = repo.AppendItem(ctx, "00000000-0000-0000-0000-000000000000", items[0])
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("AppendItem() error = %v, want ErrJobNotFound", err)
	}
}

func TestRepository_AppendItem_Concurrent(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	created, _ := repo.Create(ctx, "products.csv", 20)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.AppendItem(ctx, created.ID, domain.Item{
				SerialNumber: fmt.Sprintf("%d", i),
				ProductName:  "Widget",
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AppendItem() error = %v", err)
		}
	}

	job, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(job.Items) != n {
		t.Errorf("Get() items = %d, want %d: concurrent appends were lost", len(job.Items), n)
	}
}

func TestRepository_AdvanceStatus(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	created, _ := repo.Create(ctx, "products.csv", 2)

	if err := repo.AdvanceStatus(ctx, created.ID, domain.StatusProcessing, 1); err != nil {
		t.Fatalf("AdvanceStatus() error = %v", err)
	}

	job, _ := repo.Get(ctx, created.ID)
	if job.Status != domain.StatusProcessing {
		t.Errorf("status = %q, want processing", job.Status)
	}
	if job.Processed != 1 {
		t.Errorf("processed = %d, want 1", job.Processed)
	}

	if err := repo.AdvanceStatus(ctx, created.ID, domain.StatusCompleted, 2); err != nil {
		t.Fatalf("AdvanceStatus() error = %v", err)
	}

	// Terminal status is final.
	err := repo.AdvanceStatus(ctx, created.ID, domain.StatusProcessing, 1)
	if !errors.Is(err, domain.ErrTerminalStatus) {
		t.Errorf("AdvanceStatus() after completed error = %v, want ErrTerminalStatus", err)
	}
	job, _ = repo.Get(ctx, created.ID)
	if job.Status != domain.StatusCompleted {
		t.Errorf("status regressed to %q", job.Status)
	}

	// Unknown job
	err = repo.AdvanceStatus(ctx, "00000000-0000-0000-0000-000000000000", domain.StatusProcessing, 0)
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("AdvanceStatus() error = %v, want ErrJobNotFound", err)
	}
}

func TestRepository_Fail(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	ctx := context.Background()
	created, _ := repo.Create(ctx, "products.csv", 2)

	if err := repo.Fail(ctx, created.ID, "repository write failed"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	job, _ := repo.Get(ctx, created.ID)
	if job.Status != domain.StatusFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
	if job.Error != "repository write failed" {
		t.Errorf("error = %q", job.Error)
	}

	// Failed is terminal too.
	err := repo.Fail(ctx, created.ID, "again")
	if !errors.Is(err, domain.ErrTerminalStatus) {
		t.Errorf("Fail() twice error = %v, want ErrTerminalStatus", err)
	}
}
