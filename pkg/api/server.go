// Package api provides the read-only HTTP status API of the relay
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/relay"
)

// RelayView is the part of the relay the API reads from
type RelayView interface {
	GetStats() relay.StatsSnapshot
	Registry() *relay.Registry
}

// Server is the HTTP status server
type Server struct {
	relay      RelayView
	router     *gin.Engine
	httpServer *http.Server
	config     *Config
	log        *logrus.Entry
}

// Config holds server configuration
type Config struct {
	Addr         string
	EnableCORS   bool
	RateLimit    int // Requests per minute per client IP, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		EnableCORS:   true,
		RateLimit:    120,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a status API over rv
func NewServer(rv RelayView, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		relay:  rv,
		router: gin.New(),
		config: config,
		log:    logrus.WithField("component", "api"),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())

	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if s.config.RateLimit > 0 {
		s.router.Use(NewRateLimiter(s.config.RateLimit).Middleware())
	}

	s.router.Use(LoggingMiddleware(s.log))
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/stats", s.handleStats)
		v1.GET("/users", s.handleUsers)
		v1.GET("/groups", s.handleGroups)
		v1.GET("/groups/:name", s.handleGroup)
	}

	s.router.GET("/health", s.handleHealth)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.config.Addr).Info("HTTP status API starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP status API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
