package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"PatentTriage/internal/classify"
	"PatentTriage/internal/domain"
	"PatentTriage/internal/logging"
	"PatentTriage/internal/ports"
	"PatentTriage/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// Settings is the read-only view exposed by GET /api/settings.
type Settings struct {
	Version           string `json:"version"`
	ClassifierID      string `json:"classifierId"`
	ClassifierVersion string `json:"classifierVersion"`
	OpenAIModel       string `json:"openaiModel"`
	AirtableBaseID    string `json:"airtableBaseId"`
	AirtableTable     string `json:"airtableTableName"`
	BatchSize         int    `json:"batchSize"`
	MinRelevance      string `json:"minRelevance"`
}

// Deps wires the use cases and read models behind the HTTP API.
type Deps struct {
	Ingestor     *usecase.Ingestor
	Batch        *usecase.BatchProcessor
	Syncer       *usecase.Syncer
	Exporter     *usecase.Exporter
	Results      ports.ResultRepository
	Queue        ports.QueueRepository
	Jobs         ports.JobRepository
	Records      ports.TrackerRecords
	Classifier   classify.Classifier
	Keyword      classify.Classifier
	Rules        classify.TagRules
	BatchSize    int
	MinRelevance domain.Relevance
	Settings     Settings
	Logger       *slog.Logger
}

// Server holds the state for the REST API server.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *slog.Logger

	// background ingests still running
	wg sync.WaitGroup
}

// NewServer creates a new Server instance.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Keyword == nil {
		deps.Keyword = deps.Classifier
	}
	if deps.Exporter == nil && deps.Results != nil {
		deps.Exporter = usecase.NewExporter(deps.Results, deps.Logger)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))

	s := &Server{deps: deps, router: r, logger: deps.Logger}
	s.setupRoutes()
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests
// and background ingests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Wait()
	return nil
}

// Wait blocks until background ingests have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/v1/health", s.healthCheck)
	s.router.GET("/api/settings", s.handleSettings)

	s.router.POST("/api/ingest", s.handleIngest)
	s.router.GET("/api/ingest/:id", s.handleIngestJob)

	s.router.GET("/api/queue", s.handleQueue)
	s.router.POST("/api/queue/skip", s.handleSkip)
	s.router.POST("/api/queue/process", s.handleProcess)

	s.router.GET("/api/scores", s.handleScores)
	s.router.GET("/api/scores/:id/:fingerprint", s.handleScoreDetail)
	s.router.POST("/api/score", s.handleScore)
	s.router.GET("/api/export/scores", s.handleExport)

	s.router.POST("/api/sync", s.handleSync)

	s.router.GET("/api/records", s.handleRecords)
	s.router.GET("/api/records/:id", s.handleRecord)
	s.router.PATCH("/api/records/:id", s.handleUpdateRecord)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
