// Package api exposes run history over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rules-tuner/internal/analytics"
	"rules-tuner/internal/evaluation"
	"rules-tuner/internal/repository"
	"rules-tuner/internal/storage"
)

// RunStore is the read side of the repository.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]repository.Run, error)
	GetRun(ctx context.Context, id string) (*repository.Run, error)
	ListResults(ctx context.Context, runID, phase string) ([]evaluation.Result, error)
}

type Server struct {
	router    *gin.Engine
	store     RunStore
	goodScore float64
	logger    *zap.Logger
}

func NewServer(store RunStore, goodScore float64, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{router: router, store: store, goodScore: goodScore, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	runs := s.router.Group("/api/runs")
	{
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
		runs.GET("/:id/results", s.handleListResults)
		runs.GET("/:id/analytics", s.handleRunAnalytics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListResults(c *gin.Context) {
	phase := c.DefaultQuery("phase", storage.PhaseBaseline)
	if phase != storage.PhaseBaseline && phase != storage.PhaseTest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phase must be baseline or test"})
		return
	}
	if _, ok := s.lookupRun(c); !ok {
		return
	}

	results, err := s.store.ListResults(c.Request.Context(), c.Param("id"), phase)
	if err != nil {
		s.logger.Error("Failed to list results", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"phase":   phase,
		"stats":   evaluation.CalcStats(results, s.goodScore),
		"results": results,
	})
}

func (s *Server) handleRunAnalytics(c *gin.Context) {
	run, ok := s.lookupRun(c)
	if !ok {
		return
	}

	var records []storage.Record
	for _, phase := range []string{storage.PhaseBaseline, storage.PhaseTest} {
		results, err := s.store.ListResults(c.Request.Context(), run.ID, phase)
		if err != nil {
			s.logger.Error("Failed to list results", zap.String("run_id", run.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
			return
		}
		records = append(records, storage.NewRecords(run.ID, phase, time.Time{}, results)...)
	}
	c.JSON(http.StatusOK, analytics.AnalyzeRun(records, run.ID, s.goodScore))
}

func (s *Server) lookupRun(c *gin.Context) (*repository.Run, bool) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	case err != nil:
		s.logger.Error("Failed to get run", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return nil, false
	}
	return run, true
}
