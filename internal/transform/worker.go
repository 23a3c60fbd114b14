package transform

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Stage names one of the three worker stages for error classification.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageRecompress Stage = "recompress"
	StageStore      Stage = "store"
)

// StageError wraps a stage failure. Transient failures (network errors,
// timeouts, 5xx) are worth retrying; decode failures and 4xx are not.
type StageError struct {
	Stage     Stage
	URL       string
	Err       error
	Transient bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Store is the driven port for durable blob storage of transformed images.
type Store interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Config holds the worker's transform parameters.
type Config struct {
	WorkDir      string
	ScalePercent int
	Quality      int
	StageTimeout time.Duration
}

// Worker runs the fetch -> recompress -> store pipeline for one image
// reference. It is stateless apart from per-call temporaries and safe for
// concurrent use.
type Worker struct {
	client *resty.Client
	store  Store
	cfg    Config
	log    *slog.Logger
}

// New creates a worker. Zero config fields fall back to defaults
// (50% scale, quality 50, 30s per stage).
func New(store Store, cfg Config, log *slog.Logger) *Worker {
	if cfg.ScalePercent <= 0 {
		cfg.ScalePercent = 50
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 50
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		client: resty.New().SetTimeout(cfg.StageTimeout),
		store:  store,
		cfg:    cfg,
		log:    log,
	}
}

// Transform downloads url, resizes and recompresses it, uploads the
// result to the store and returns the durable URL. No local temporary
// survives the call regardless of outcome.
func (w *Worker) Transform(ctx context.Context, url, name string) (string, error) {
	if err := os.MkdirAll(w.cfg.WorkDir, 0755); err != nil {
		return "", &StageError{Stage: StageFetch, URL: url, Err: err}
	}

	// Unique per-call names so concurrent transforms never share files.
	suffix := uuid.NewString()[:8]
	inPath := filepath.Join(w.cfg.WorkDir, fmt.Sprintf("%s-%s.in", name, suffix))
	outPath := filepath.Join(w.cfg.WorkDir, fmt.Sprintf("%s-%s.jpg", name, suffix))
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	if err := w.fetch(ctx, url, inPath); err != nil {
		return "", err
	}
	if err := w.recompress(url, inPath, outPath); err != nil {
		return "", err
	}

	storedURL, err := w.upload(ctx, url, outPath)
	if err != nil {
		return "", err
	}

	w.log.Debug("image transformed", "url", url, "stored_url", storedURL)
	return storedURL, nil
}

// fetch retrieves the image bytes into path. A partially written file is
// removed on any failure.
func (w *Worker) fetch(ctx context.Context, url, path string) error {
	sctx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
	defer cancel()

	resp, err := w.client.R().SetContext(sctx).SetOutput(path).Get(url)
	if err != nil {
		os.Remove(path)
		return &StageError{Stage: StageFetch, URL: url, Err: err, Transient: true}
	}
	if resp.IsError() {
		os.Remove(path)
		return &StageError{
			Stage:     StageFetch,
			URL:       url,
			Err:       fmt.Errorf("unexpected status %s", resp.Status()),
			Transient: resp.StatusCode() >= 500,
		}
	}
	return nil
}

// recompress decodes inPath, scales it to the configured percentage of
// the original dimensions and re-encodes as JPEG at the configured
// quality. The input file is deleted only after a successful re-encode.
func (w *Worker) recompress(url, inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return &StageError{Stage: StageRecompress, URL: url, Err: err}
	}
	src, format, err := image.Decode(in)
	in.Close()
	if err != nil {
		return &StageError{Stage: StageRecompress, URL: url, Err: fmt.Errorf("decode: %w", err)}
	}

	bounds := src.Bounds()
	newW := bounds.Dx() * w.cfg.ScalePercent / 100
	newH := bounds.Dy() * w.cfg.ScalePercent / 100
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	out, err := os.Create(outPath)
	if err != nil {
		return &StageError{Stage: StageRecompress, URL: url, Err: err}
	}
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: w.cfg.Quality}); err != nil {
		out.Close()
		os.Remove(outPath)
		return &StageError{Stage: StageRecompress, URL: url, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return &StageError{Stage: StageRecompress, URL: url, Err: err}
	}

	w.log.Debug("image recompressed",
		"url", url,
		"format", format,
		"from", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		"to", fmt.Sprintf("%dx%d", newW, newH),
	)

	// Input is released only after a successful recompress.
	os.Remove(inPath)
	return nil
}

func (w *Worker) upload(ctx context.Context, url, path string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
	defer cancel()

	storedURL, err := w.store.Upload(sctx, path)
	if err != nil {
		if se, ok := err.(*StageError); ok {
			return "", se
		}
		return "", &StageError{Stage: StageStore, URL: url, Err: err, Transient: true}
	}
	return storedURL, nil
}
