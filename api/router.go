// Package api exposes the dashboard HTTP surface: run submission and
// inspection, cancellation, approval decisions, usage totals, health and
// metrics.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/bus"
	"github.com/miniclaw/miniclaw/usage"
	"github.com/miniclaw/miniclaw/workflow"
)

// RunService is the slice of the workflow runner the API needs.
type RunService interface {
	Submit(ctx context.Context, recipe *workflow.Recipe, vars map[string]string) (string, error)
	Status(runID string) (*workflow.RunResult, bool)
	Cancel(runID string) bool
	Runs() []string
}

// RecipeSource resolves recipe names to parsed recipes.
type RecipeSource interface {
	Load(name string) (*workflow.Recipe, error)
	List() ([]string, error)
}

// ApprovalService lists and resolves pending approvals.
type ApprovalService interface {
	Pending() []bus.PendingApproval
	Resolve(id string, approved bool) error
}

// ArchiveReader serves archived run results.
type ArchiveReader interface {
	Get(ctx context.Context, runID string) (*workflow.RunResult, bool, error)
	List(ctx context.Context, limit int) ([]*workflow.RunResult, error)
}

// UsageReader serves token accounting totals.
type UsageReader interface {
	Sessions() []usage.Totals
}

// Server bundles the API's collaborators.
type Server struct {
	runs      RunService
	recipes   RecipeSource
	approvals ApprovalService
	archive   ArchiveReader
	usage     UsageReader
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	started   time.Time
}

// ServerOption configures optional collaborators. Routes for absent
// collaborators respond with an empty or error body instead of panicking.
type ServerOption func(*Server)

// WithApprovals wires the approval registry.
func WithApprovals(a ApprovalService) ServerOption {
	return func(s *Server) { s.approvals = a }
}

// WithArchive wires the run archive.
func WithArchive(a ArchiveReader) ServerOption {
	return func(s *Server) { s.archive = a }
}

// WithUsage wires the usage tracker.
func WithUsage(u UsageReader) ServerOption {
	return func(s *Server) { s.usage = u }
}

// WithGatherer sets the metrics gatherer backing /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates the API server.
func NewServer(runs RunService, recipes RecipeSource, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		runs:     runs,
		recipes:  recipes,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.With(zap.String("component", "api")),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/workflows", s.listWorkflows)
		apiGroup.POST("/workflows/:name/runs", s.submitRun)
		apiGroup.GET("/runs", s.listRuns)
		apiGroup.GET("/runs/:id", s.getRun)
		apiGroup.POST("/runs/:id/cancel", s.cancelRun)
		apiGroup.GET("/approvals", s.listApprovals)
		apiGroup.POST("/approvals/:id", s.resolveApproval)
		apiGroup.GET("/usage", s.getUsage)
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
