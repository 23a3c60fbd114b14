package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cwygoda/imagebatch/internal/domain"
)

// payload is the outbound webhook body.
type payload struct {
	Process string `json:"process"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Notifier posts status updates to a configured webhook endpoint. It is
// strictly best-effort: delivery failures are logged and swallowed, and a
// short client timeout bounds how long a call can block the pipeline.
type Notifier struct {
	http *resty.Client
	url  string
	log  *slog.Logger
}

// New creates a webhook notifier. An empty url yields a no-op notifier.
func New(url string, timeout time.Duration, log *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		http: resty.New().SetTimeout(timeout),
		url:  url,
		log:  log,
	}
}

// Notify implements domain.Notifier.
func (n *Notifier) Notify(ctx context.Context, process string, status domain.NotifyStatus, message string) {
	if n.url == "" {
		return
	}

	resp, err := n.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload{Process: process, Status: string(status), Message: message}).
		Post(n.url)
	if err != nil {
		n.log.Warn("webhook delivery failed", "process", process, "status", status, "err", err)
		return
	}
	if resp.IsError() {
		n.log.Warn("webhook rejected", "process", process, "status", status, "http_status", resp.Status())
		return
	}
	n.log.Debug("webhook sent", "process", process, "status", status)
}
