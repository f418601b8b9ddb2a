package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signaldispatcher/internal/accounts"
	"signaldispatcher/internal/dispatch"
	"signaldispatcher/internal/metrics"
)

// ServerConfig holds the HTTP front's tunables, adapted from the
// teacher's ServerConfig (trimmed of stream/CORS-specific fields not
// named by the signal-dispatch surface).
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	APIKey         string
	RateLimit      int
	RateWindow     time.Duration
}

func setConfigDefaults(cfg *ServerConfig) {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = 1 << 20
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 60
	}
}

// Server is the gin-based HTTP front over the dispatcher and account
// registry, adapted from the teacher's Server (stream/subscription
// manager wiring replaced by dispatch.Dispatcher/accounts.Registry).
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds a Server wired to dispatcher and registry.
func NewServer(cfg ServerConfig, dispatcher *dispatch.Dispatcher, registry *accounts.Registry, logger zerolog.Logger) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port number: %d", cfg.Port)
	}
	setConfigDefaults(&cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(RecoveryMiddleware(logger))
	router.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateWindow))

	collector := metrics.NewCollector()
	router.Use(metrics.Middleware(collector))
	dispatcher.OnProcessed(collector.RecordSignalProcessed)

	h := NewHandlers(dispatcher, registry, logger)

	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)
	router.GET("/metrics", metrics.Handler(collector, func() []metrics.GaugeEntry {
		stats := dispatcher.Stats()
		return []metrics.GaugeEntry{
			{Name: "dispatch_queue_depth", Value: float64(stats.Processing), Labels: map[string]string{"state": "processing"}},
			{Name: "dispatch_queue_depth", Value: float64(stats.Waiting), Labels: map[string]string{"state": "waiting"}},
		}
	}))

	authorized := router.Group("/")
	authorized.Use(AuthMiddleware(cfg.APIKey))
	authorized.POST("/signals/enqueue/:account", h.EnqueueSignal)
	authorized.GET("/signals/queue", h.QueueSnapshot)

	server := &Server{
		config: cfg,
		router: router,
		logger: logger,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Port),
			Handler:        router,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
	}
	return server, nil
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info().Int("port", s.config.Port).Msg("starting api server")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down api server")
	return s.httpServer.Shutdown(ctx)
}
