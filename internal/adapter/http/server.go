// Package http is the HTTP adapter for the image batch service.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cwygoda/imagebatch/internal/batch"
	"github.com/cwygoda/imagebatch/internal/domain"
	"github.com/cwygoda/imagebatch/internal/export"
	"github.com/cwygoda/imagebatch/internal/orchestrator"
)

// Server exposes batch submission, status polling and export over HTTP.
type Server struct {
	orch        *orchestrator.Service
	repo        domain.JobRepository
	exporter    *export.Service
	log         *slog.Logger
	maxUploadMB int64

	engine *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server listening on addr.
func NewServer(orch *orchestrator.Service, repo domain.JobRepository, exporter *export.Service, addr string, maxUploadMB int64, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		orch:        orch,
		repo:        repo,
		exporter:    exporter,
		log:         log,
		maxUploadMB: maxUploadMB,
		engine:      gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.POST("/upload", s.handleUpload)
	api.GET("/status/:id", s.handleStatus)
	api.GET("/download/:id", s.handleDownload)

	// Loopback sink so the service can be exercised without an external
	// webhook consumer.
	s.engine.POST("/webhook", s.handleWebhook)
	s.engine.GET("/webhook", s.handleWebhook)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// uploadResponse is the JSON response for POST /api/upload.
type uploadResponse struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	DownloadURL string `json:"download_url"`
}

// statusResponse is the JSON response for GET /api/status/:id.
type statusResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
	Retry  string `json:"retry_url,omitempty"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "imagebatch",
		"upload":  "POST /api/upload (multipart field \"file\", CSV)",
		"status":  "GET /api/status/:id",
		"export":  "GET /api/download/:id",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required"})
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "only .csv files are accepted"})
		return
	}
	if limit := s.maxUploadMB << 20; limit > 0 && fileHeader.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("file exceeds %d MB limit", s.maxUploadMB),
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable upload"})
		return
	}
	defer f.Close()

	job, err := s.orch.Submit(c.Request.Context(), fileHeader.Filename, f)
	if err != nil {
		if errors.Is(err, batch.ErrBadBatch) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.log.Error("submit failed", "file", fileHeader.Filename, "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusCreated, uploadResponse{
		RequestID:   job.ID,
		Status:      string(job.Status),
		StatusURL:   "/api/status/" + job.ID,
		DownloadURL: "/api/download/" + job.ID,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}

	job, err := s.repo.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: "request not found"})
			return
		}
		s.log.Error("status lookup failed", "job_id", id, "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		RequestID: job.ID,
		Status:    string(job.Status),
		Processed: job.Processed,
		Total:     job.Total,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}

	data, name, err := s.exporter.Export(c.Request.Context(), id)
	if err != nil {
		var notReady *export.NotReadyError
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, errorResponse{Error: "request not found"})
		case errors.As(err, &notReady):
			c.JSON(http.StatusConflict, errorResponse{
				Error:  "export not ready",
				Status: string(notReady.Status),
				Retry:  "/api/status/" + id,
			})
		default:
			s.log.Error("export failed", "job_id", id, "err", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}

// handleWebhook logs notifications posted back to this service. It accepts
// any payload so a default configuration pointing the webhook at itself
// never fails a run.
func (s *Server) handleWebhook(c *gin.Context) {
	var payload struct {
		Process string `json:"process"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&payload); err != nil {
			s.log.Warn("webhook payload unreadable", "err", err)
		}
	}
	s.log.Info("webhook received", "process", payload.Process, "status", payload.Status, "message", payload.Message)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// jobID validates the :id path parameter. On failure it writes the error
// response and reports false.
func (s *Server) jobID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return "", false
	}
	return id, true
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
