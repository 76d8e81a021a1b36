// Package server exposes the scan session orchestrator over HTTP: a REST
// surface for control and snapshots, and an SSE stream for push delivery.
// Both adapters read from the same per-session state machine and event log,
// so the pull and push views can never diverge.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/farid/autostrike/internal/session"
	"github.com/farid/autostrike/internal/storage"
)

// Server hosts the REST and SSE adapters over a session registry.
type Server struct {
	registry *session.Registry
	store    *storage.Store
	engine   *gin.Engine
	http     *http.Server
	log      *logrus.Entry
}

// New wires the routes and returns a Server listening on addr when Run is
// called.
func New(addr string, registry *session.Registry, store *storage.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		registry: registry,
		store:    store,
		engine:   engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logrus.WithField("component", "server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/scans", s.createSession)
		v1.GET("/scans", s.listSessions)
		v1.GET("/scans/:id", s.getSession)
		v1.POST("/scans/:id/start", s.startSession)
		v1.GET("/scans/:id/response", s.pollSession)
		v1.POST("/scans/:id/respond", s.respond)
		v1.POST("/scans/:id/commands", s.addCommand)
		v1.PUT("/scans/:id/commands/:index", s.fillCommand)
		v1.GET("/scans/:id/events", s.streamEvents)
		v1.GET("/scans/:id/report", s.getReport)
	}
}

// Handler exposes the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully: stop
// accepting requests, drain running sessions, close.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("addr", s.http.Addr).Info("listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http shutdown did not complete cleanly")
		}
		if err := s.registry.Drain(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("session drain did not complete cleanly")
		}
		return nil
	})

	return g.Wait()
}

// requestLogger records one debug line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request handled")
	}
}

// fail writes the uniform error envelope, mapping domain errors to status
// codes: bad input 400, unknown id 404, state conflicts 409.
func fail(c *gin.Context, err error) {
	var invalidTarget *session.InvalidTargetError
	var invalidState *session.InvalidStateError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &invalidTarget), errors.Is(err, session.ErrOverrideRequired):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.As(err, &invalidState):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
