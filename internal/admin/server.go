package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/edgepipe/internal/observability"
	"github.com/danmuck/edgepipe/internal/pipe"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	version              = "0.1.0"
	defaultShutdownGrace = 5 * time.Second
)

// Pipe is the part of *pipe.Pipe the admin surface reads and drives.
type Pipe interface {
	Snapshot() pipe.Snapshot
	Send(cmd pipe.Command) *pipe.Future
}

// Server exposes health, readiness, pipe state and metrics over HTTP.
type Server struct {
	Name    string
	Addr    string
	Started time.Time
	// ShutdownGrace bounds in-flight requests once Serve's context ends.
	// Zero uses a 5s default.
	ShutdownGrace time.Duration

	pipe   Pipe
	router *gin.Engine
}

func New(name, addr string, p Pipe, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPInstrumentation(name, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:    name,
		Addr:    addr,
		Started: time.Now(),
		pipe:    p,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.Name,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.pipe.Snapshot().State
		status := http.StatusOK
		if state != pipe.Connected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   state == pipe.Connected,
			"state":   state,
			"service": s.Name,
		})
	})

	s.router.GET("/pipe", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.pipe.Snapshot())
	})

	s.router.POST("/pipe/commands", s.sendCommand)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type commandRequest struct {
	Method    string         `json:"method"`
	Params    map[string]any `json:"params"`
	TimeoutMS *int64         `json:"timeout_ms"`
}

// sendCommand forwards one application command through the pipe and waits
// for its response, bounded by the request context.
func (s *Server) sendCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Method) == "" || pipe.IsControl(req.Method) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method must name an application command"})
		return
	}

	cmd := pipe.Command{Method: req.Method, Params: req.Params}
	if req.TimeoutMS != nil {
		cmd = cmd.WithTimeout(time.Duration(*req.TimeoutMS) * time.Millisecond)
	}
	data, err := s.pipe.Send(cmd).Wait(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": data})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipe.ErrNotConnected), errors.Is(err, pipe.ErrDisposed):
		return http.StatusConflict
	case errors.Is(err, pipe.ErrInvalidCommand), errors.Is(err, pipe.ErrDuplicateRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipe.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs until ctx ends, then shuts the listener down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("service", s.Name).Str("addr", s.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) shutdownGrace() time.Duration {
	if s.ShutdownGrace <= 0 {
		return defaultShutdownGrace
	}
	return s.ShutdownGrace
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
