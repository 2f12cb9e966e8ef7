package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/storage"
)

// CycleTrigger accepts an on-demand evaluation request. Implementations
// return engine.ErrConcurrentCycle when a cycle is already in flight.
type CycleTrigger interface {
	TriggerCycle(trigger string) error
}

// Options configure the HTTP surface.
type Options struct {
	Addr   string
	APIKey string
}

// Server exposes report queries, on-demand triggers, and self metrics.
type Server struct {
	opts       Options
	router     *gin.Engine
	archive    storage.ReportArchive
	trigger    CycleTrigger
	logger     zerolog.Logger
	httpServer *http.Server
	listenAddr string
	wg         sync.WaitGroup
}

// New initializes the gin engine and mounts all routes.
func New(opts Options, archive storage.ReportArchive, trigger CycleTrigger, gatherer prometheus.Gatherer, logger zerolog.Logger) (*Server, error) {
	if archive == nil {
		return nil, errors.New("archive is required")
	}
	if trigger == nil {
		return nil, errors.New("cycle trigger is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		opts:       opts,
		router:     router,
		archive:    archive,
		trigger:    trigger,
		logger:     logger.With().Str("component", "http").Logger(),
		listenAddr: opts.Addr,
	}

	s.setupRoutes(gatherer)
	return s, nil
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/healthz", s.handleHealthz)
	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/v1")
	if s.opts.APIKey != "" {
		api.Use(s.authAPIKey())
	}
	{
		api.GET("/reports", s.handleListReports)
		api.GET("/reports/latest", s.handleLatestReport)
		api.POST("/cycles", s.handleTriggerCycle)
	}
}

func (s *Server) authAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Api-Key") != s.opts.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListReports(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := s.archive.ListRecentReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": records})
}

func (s *Server) handleLatestReport(c *gin.Context) {
	record, err := s.archive.LatestReport(c.Request.Context())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reports archived"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleTriggerCycle(c *gin.Context) {
	if err := s.trigger.TriggerCycle("on-demand"); err != nil {
		if errors.Is(err, engine.ErrConcurrentCycle) {
			c.JSON(http.StatusConflict, gin.H{"error": "cycle already in flight"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listens and serves connections until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.router,
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listenAddr = ln.Addr().String()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", s.listenAddr).Msg("http server listening")

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server failed")
		}
	}()
	return nil
}

// Address returns the actual listen address.
func (s *Server) Address() string {
	return s.listenAddr
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}
