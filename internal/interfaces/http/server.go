// Package http exposes the record and upload services over a JSON API.
// It is a thin adapter: requests are translated to service calls and
// domain errors to status codes.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/internal/domain/upload"
	"github.com/careloop/medvault/internal/uploader"
)

// RecordService is the record surface the handlers need.
type RecordService interface {
	List() ([]*record.MedicalRecord, bool)
	Get(id string) (*record.MedicalRecord, error)
	Update(ctx context.Context, rec *record.MedicalRecord) error
	Delete(ctx context.Context, id string) error
	Refresh(ctx context.Context) error
}

// UploadService is the upload job surface the handlers need.
type UploadService interface {
	Submit(file *uploader.SubmittedFile, draft uploader.Draft) (string, error)
	Cancel(jobID string) error
	Retry(jobID string) (string, error)
	Jobs() []upload.Job
	Job(jobID string) (upload.Job, bool)
}

// Exporter renders a record collection to a download stream.
type Exporter interface {
	Write(records []*record.MedicalRecord, w io.Writer) error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	records RecordService,
	uploads UploadService,
	exporter Exporter,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory

	server := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes(records, uploads, exporter)

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("latency", time.Since(start).String()),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(records RecordService, uploads UploadService, exporter Exporter) {
	handlers := NewHandlers(records, uploads, exporter, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	// API routes
	api := s.router.Group("/api")
	{
		// Records
		api.GET("/records", handlers.ListRecords)
		api.GET("/records/export", handlers.ExportRecords)
		api.POST("/records/refresh", handlers.RefreshRecords)
		api.GET("/records/:id", handlers.GetRecord)
		api.PUT("/records/:id", handlers.UpdateRecord)
		api.DELETE("/records/:id", handlers.DeleteRecord)

		// Upload jobs
		api.POST("/uploads", handlers.SubmitUpload)
		api.GET("/uploads", handlers.ListUploads)
		api.POST("/uploads/:id/cancel", handlers.CancelUpload)
		api.POST("/uploads/:id/retry", handlers.RetryUpload)
	}
}

// Start starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
