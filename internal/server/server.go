// Package server wires the bundle cache, the invalidation tracker, the
// change notification hub, the asset responder and the symbolicator into the
// packager's HTTP server.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/conneroisu/packager/internal/assets"
	"github.com/conneroisu/packager/internal/build"
	"github.com/conneroisu/packager/internal/bundle"
	"github.com/conneroisu/packager/internal/config"
	"github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/invalidation"
	"github.com/conneroisu/packager/internal/logging"
	"github.com/conneroisu/packager/internal/notify"
	"github.com/conneroisu/packager/internal/symbolicate"
	"github.com/conneroisu/packager/internal/watcher"
)

// Server owns all shared packager state. Nothing is kept in package globals.
type Server struct {
	config *config.Config
	logger logging.Logger

	builder       bundle.Builder
	urlParser     bundle.Parser
	cache         *build.Cache
	hub           *notify.Hub
	tracker       *invalidation.Tracker
	assets        *assets.Responder
	assetResolver assets.Resolver
	symbolicator  *symbolicate.Symbolicator
	changes       invalidation.ChangeSource
	next          http.Handler

	// fileWatcher is set when the server created its own change source and
	// is responsible for starting and stopping it.
	fileWatcher *watcher.FileWatcher

	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	initOnce sync.Once
	initErr  error

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once

	hotMutex   sync.Mutex
	hotClosed  bool
	hotClients sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithBuilder replaces the default esbuild builder.
func WithBuilder(b bundle.Builder) Option {
	return func(s *Server) { s.builder = b }
}

// WithAssetResolver replaces the filesystem asset resolver.
func WithAssetResolver(r assets.Resolver) Option {
	return func(s *Server) { s.assetResolver = r }
}

// WithChangeSource replaces the fsnotify watcher.
func WithChangeSource(src invalidation.ChangeSource) Option {
	return func(s *Server) { s.changes = src }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithNext sets the handler for requests the packager does not serve.
func WithNext(h http.Handler) Option {
	return func(s *Server) { s.next = h }
}

// New creates a server for cfg. Collaborators not supplied through options
// are built from the configuration.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		urlParser: bundle.NewParser(cfg.Project.Platforms),
		logger:    logging.NewDiscard(),
		hub:       notify.NewHub(),
		next:      http.NotFoundHandler(),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewDiscard()
	}
	s.logger = s.logger.WithComponent("server")

	if s.builder == nil {
		builder, err := build.NewESBuilder(build.ESBuilderConfig{
			Roots:             cfg.Project.Roots,
			Target:            cfg.Bundler.Target,
			ResolveExtensions: cfg.Bundler.ResolveExtensions,
		}, s.logger)
		if err != nil {
			cancel()
			return nil, errors.NewConfigError("creating bundler", err)
		}
		s.builder = builder
	}

	if s.assetResolver == nil {
		s.assetResolver = assets.NewOSResolver(cfg.Project.AssetRoots)
	}
	s.assets = assets.NewResponder(s.assetResolver, s.logger)

	if s.changes == nil {
		fw, err := watcher.NewFileWatcher(watcher.Config{
			Roots:    cfg.Project.Roots,
			Debounce: cfg.Watcher.Debounce,
			Ignore:   cfg.Watcher.Ignore,
		}, s.logger)
		if err != nil {
			cancel()
			return nil, err
		}
		s.fileWatcher = fw
		s.changes = fw
	}

	s.cache = build.NewCache(ctx, s.builder, s.logger)
	s.tracker = invalidation.NewTracker(s.builder, s.cache, s.hub, s.logger)
	s.symbolicator = symbolicate.New(symbolicate.ConsumerSourceFunc(s.consumerFor), s.logger)

	return s, nil
}

// Init establishes the change subscription and starts processing changes.
// Failing to subscribe is the only fatal startup error.
func (s *Server) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		events, err := s.tracker.Subscribe(s.changes)
		if err != nil {
			s.initErr = err
			return
		}

		if s.fileWatcher != nil {
			if err := s.fileWatcher.Start(s.ctx); err != nil {
				s.initErr = err
				return
			}
		}

		go s.tracker.Run(s.ctx, events)
		s.logger.Info(ctx, "Change tracking started")
	})
	return s.initErr
}

// Start initializes the server and serves HTTP on the configured address
// until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve initializes the server and serves HTTP on listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if err := s.Init(ctx); err != nil {
		listener.Close()
		return err
	}

	if limit := s.config.Server.MaxConnections; limit > 0 {
		listener = netutil.LimitListener(listener, limit)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Packager listening",
		"addr", listener.Addr().String(),
		"roots", s.config.Project.Roots,
	)

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Handler returns the packager's HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.addMiddleware(s.router())
}

// Cache returns the bundle cache.
func (s *Server) Cache() *build.Cache {
	return s.cache
}

// Tracker returns the invalidation tracker.
func (s *Server) Tracker() *invalidation.Tracker {
	return s.tracker
}

// Hub returns the change notification hub.
func (s *Server) Hub() *notify.Hub {
	return s.hub
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down packager")

		// Stops change processing, pending builds and hot clients.
		s.cancel()

		s.hotMutex.Lock()
		s.hotClosed = true
		s.hotMutex.Unlock()

		if s.fileWatcher != nil {
			if err := s.fileWatcher.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop file watcher")
			}
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}

		done := make(chan struct{})
		go func() {
			s.hotClients.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if shutdownErr == nil {
				shutdownErr = ctx.Err()
			}
		}

		s.cache.Clear()
	})

	return shutdownErr
}
