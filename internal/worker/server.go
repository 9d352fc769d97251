// Package worker exposes one testrun.Run over HTTP: health, status,
// prepare, start, results and stop, per the distributed runner protocol.
// A worker hosts exactly one active run at a time.
package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loadforge/loadforge/internal/appconfig"
	"github.com/loadforge/loadforge/internal/testplan"
	"github.com/loadforge/loadforge/internal/testrun"
	"github.com/loadforge/loadforge/internal/tracing"
)

// Server wraps a single testrun.Run behind the worker HTTP surface.
type Server struct {
	logger *zap.Logger
	run    *testrun.Run
	tracer *tracing.Tracer
}

// New builds a Server with an idle run, ready for /prepare. Tracing is
// disabled; use WithTracer to enable span propagation from a coordinator.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, run: testrun.New(logger)}
}

// WithTracer enables request tracing for this Server's routes and the
// underlying run's step/VU spans.
func (s *Server) WithTracer(tracer *tracing.Tracer) *Server {
	s.tracer = tracer
	s.run.Configure(nil, tracing.NewStepTracer(tracer))
	return s
}

// WithConfig attaches ambient process configuration (metrics/output sizing)
// to the underlying run.
func (s *Server) WithConfig(cfg *appconfig.Config) *Server {
	var stepTracer *tracing.StepTracer
	if s.tracer != nil {
		stepTracer = tracing.NewStepTracer(s.tracer)
	}
	s.run.Configure(cfg, stepTracer)
	return s
}

// Router builds the gin.Engine exposing the worker's routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(s.logger))
	if s.tracer != nil {
		router.Use(tracing.Middleware("loadforge-worker"))
	}
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/status", s.status)
	router.POST("/prepare", s.prepare)
	router.POST("/start", s.start)
	router.GET("/results", s.results)
	router.POST("/stop", s.stop)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "endpoint not found"})
	})
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("worker request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// statusResponse mirrors the worker /status payload fields named in the
// distributed protocol.
type statusResponse struct {
	Connected    bool    `json:"connected"`
	Running      bool    `json:"running"`
	VirtualUsers int     `json:"virtualUsers"`
	RPS          float64 `json:"rps"`
	ResponseTime float64 `json:"responseTime"`
	ErrorRate    float64 `json:"errorRate"`
	ActiveRunner string  `json:"activeRunner"`
}

func (s *Server) status(c *gin.Context) {
	running := s.run.IsRunning()

	resp := statusResponse{Connected: true, Running: running}
	if s.run.Status() != testrun.StatusIdle {
		_, summary := s.run.Results()
		resp.VirtualUsers = virtualUserTotal(s.run)
		resp.RPS = summary.RPS
		if summary.Overall.Success > 0 {
			resp.ResponseTime = summary.Overall.Sum / float64(summary.Overall.Success)
		}
		if summary.Overall.Total > 0 {
			resp.ErrorRate = float64(summary.Overall.Fail) / float64(summary.Overall.Total) * 100
		}
		resp.ActiveRunner = string(s.run.Status())
	}
	c.JSON(http.StatusOK, resp)
}

func virtualUserTotal(run *testrun.Run) int {
	total := 0
	for _, phase := range run.Config().Load {
		if phase.VirtualUsers > total {
			total = phase.VirtualUsers
		}
	}
	return total
}

func (s *Server) prepare(c *gin.Context) {
	var cfg testplan.TestConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := s.run.Prepare(cfg); err != nil {
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "prepared"})
}

type startRequest struct {
	StartTime int64 `json:"startTime"`
}

func (s *Server) start(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
	}

	var at time.Time
	if req.StartTime > 0 {
		at = time.UnixMilli(req.StartTime)
	}

	if err := s.run.Start(context.WithoutCancel(c.Request.Context()), at); err != nil {
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "started"})
}

func (s *Server) results(c *gin.Context) {
	results, summary := s.run.Results()
	c.JSON(http.StatusOK, gin.H{"results": results, "summary": summary})
}

func (s *Server) stop(c *gin.Context) {
	s.run.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "stopping"})
}
