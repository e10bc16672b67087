// Package server provides the diagnostics HTTP API of the network manager.
// It exposes the current network snapshot, resolution queries, the snapshot
// journal, logs and a websocket feed of network change events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/network"
)

// Engine is the part of the network manager the API serves.
type Engine interface {
	Snapshot() *network.Snapshot
	ResolveBindAddress(peer netip.Addr, skipOverrides bool) (string, *int)
	ResolveBindAddressString(ctx context.Context, host string) (string, *int)
	ResolveBindAddressForRequest(r *http.Request) (string, *int)
	IsLocalString(ctx context.Context, host string) bool
	IsRemoteAllowed(peer netip.Addr) bool
	Subscribe() (<-chan network.ChangeEvent, func())
}

// Server represents the HTTP server
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     *Config
	network    Engine
	journal    *Journal
	hub        *EventHub

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config contains server configuration
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// NewServer creates a new HTTP server. journal only backs the history
// endpoints and may be nil; filling it is up to the caller.
func NewServer(config *Config, engine Engine, journal *Journal) (*Server, error) {
	if config == nil {
		return nil, errors.New("server config is required")
	}
	if engine == nil {
		return nil, errors.New("network engine is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  config,
		network: engine,
		journal: journal,
		hub:     NewEventHub(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.engine = gin.New()
	// client address is the socket peer, never a forwarded header
	if err := s.engine.SetTrustedProxies(nil); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to configure trusted proxies: %w", err)
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchNetwork()
	}()

	return s, nil
}

// setupMiddleware configures server middleware
func (s *Server) setupMiddleware() {
	s.engine.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		s.loggerMiddleware(),
		s.remoteAccessMiddleware(),
	)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/info", s.handleServerInfo)
		api.GET("/events", s.handleEvents)

		netapi := api.Group("/network")
		{
			netapi.GET("", s.handleSnapshot)
			netapi.GET("/interfaces", s.handleBindInterfaces)
			netapi.GET("/interfaces/raw", s.handleRawInterfaces)
			netapi.GET("/interfaces/internal", s.handleInternalInterfaces)
			netapi.GET("/loopbacks", s.handleLoopbacks)
			netapi.GET("/macs", s.handleMACs)
			netapi.GET("/adapters/:name", s.handleAdapter)
			netapi.GET("/resolve", s.handleResolve)
			netapi.GET("/resolve/request", s.handleResolveRequest)
			netapi.GET("/local", s.handleIsLocal)
			netapi.GET("/remote-allowed", s.handleRemoteAllowed)
			netapi.GET("/history", s.handleHistory)
			netapi.GET("/history/:id", s.handleHistoryEntry)
		}

		logs := api.Group("/logs")
		{
			logs.GET("/stream", s.handleLogStream)
			logs.GET("/entries", s.handleLogEntries)
		}
	}
}

// watchNetwork broadcasts every network change event
func (s *Server) watchNetwork() {
	events, cancel := s.network.Subscribe()
	defer cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleChange(ev)
		}
	}
}

func (s *Server) handleChange(ev network.ChangeEvent) {
	payload := changePayload(ev.Generation, ev.Reason, ev.Full, ev.Snapshot)
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
		s.hub.Publish(EventRefreshFailed, payload)
	}
	if ev.Snapshot == nil {
		return
	}

	s.hub.Publish(EventNetworkChanged, payload)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.wg.Add(1)
	go func(srv *http.Server) {
		defer s.wg.Done()

		logger.Infof("Diagnostics API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server error: %v", err)
		}
		logger.Info("HTTP server stopped")
	}(s.httpServer)

	return nil
}

// Shutdown stops the HTTP server gracefully and waits for background work
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.Close()

	var err error
	s.mu.Lock()
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			logger.Errorf("HTTP server shutdown failed: %v", err)
			s.httpServer.Close()
		}
		s.httpServer = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetEngine returns the Gin engine (for testing)
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// Hub returns the event hub
func (s *Server) Hub() *EventHub {
	return s.hub
}
