package imagestore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cwygoda/imagebatch/internal/transform"
)

// Client uploads transformed images to an HTTP blob store and returns the
// durable content URL. It implements transform.Store.
type Client struct {
	http      *resty.Client
	uploadURL string
	log       *slog.Logger
}

// uploadResponse covers the common response shapes of image hosts: either
// a plain url field or a secure_url field.
type uploadResponse struct {
	URL       string `json:"url"`
	SecureURL string `json:"secure_url"`
}

// New creates a store client for the given upload endpoint.
func New(uploadURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http:      resty.New().SetTimeout(timeout),
		uploadURL: uploadURL,
		log:       log,
	}
}

// Upload sends the file as multipart form data and returns the stored
// URL. Errors carry transience so callers can decide whether to retry.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	var result uploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&result).
		Post(c.uploadURL)
	if err != nil {
		return "", &transform.StageError{Stage: transform.StageStore, URL: path, Err: err, Transient: true}
	}
	if resp.IsError() {
		return "", &transform.StageError{
			Stage:     transform.StageStore,
			URL:       path,
			Err:       fmt.Errorf("unexpected status %s", resp.Status()),
			Transient: resp.StatusCode() >= 500,
		}
	}

	url := result.SecureURL
	if url == "" {
		url = result.URL
	}
	if url == "" {
		return "", &transform.StageError{
			Stage: transform.StageStore,
			URL:   path,
			Err:   fmt.Errorf("store response missing url"),
		}
	}

	c.log.Debug("image stored", "file", filepath.Base(path), "url", url)
	return url, nil
}
