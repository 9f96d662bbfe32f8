// Package api serves the operator HTTP API and the live event streams.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/dialog"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/knowledge"
	"gorm.io/gorm"
)

// shutdownTimeout bounds graceful shutdown before open connections are cut.
const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	DB        *gorm.DB
	Engine    *dialog.Engine
	Knowledge *knowledge.Service
	Hub       *hub.Hub
	// Webhook, when set, is mounted at POST /bot/webhook without operator
	// auth. The Telegram adapter checks its own secret token.
	Webhook http.Handler
	Now     func() time.Time
	Logger  *slog.Logger
}

// Server holds the gin router and the services behind it.
type Server struct {
	db        *gorm.DB
	engine    *dialog.Engine
	knowledge *knowledge.Service
	hub       *hub.Hub
	webhook   http.Handler
	now       func() time.Time
	logger    *slog.Logger
	router    *gin.Engine
}

// New validates opts and builds the router.
func New(opts Options) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("api: dialog engine is required")
	}
	if opts.Knowledge == nil {
		return nil, fmt.Errorf("api: knowledge service is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = hub.New(opts.Logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	s := &Server{
		db:        opts.DB,
		engine:    opts.Engine,
		knowledge: opts.Knowledge,
		hub:       opts.Hub,
		webhook:   opts.Webhook,
		now:       opts.Now,
		logger:    opts.Logger,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so event streams end on shutdown.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api: shutdown", "error", err)
			srv.Close()
		}
	}()

	s.logger.Info("api: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
