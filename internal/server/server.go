// Package server hosts the chat node's HTTP surface: the websocket endpoint
// every client keeps open, the REST send path that triggers message relay,
// and the admin listener with metrics and health probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/config"
	"github.com/fathomchat/fathom/internal/hub"
	"github.com/fathomchat/fathom/internal/store"
)

// Server wires dependencies and hosts the HTTP listeners.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	hub      *hub.Hub
	store    store.MessageStore
	promReg  *prometheus.Registry
	httpSrv  *http.Server
	adminSrv *http.Server
	upgrader websocket.Upgrader
	ready    atomic.Bool
}

// New constructs a server with its own hub and metrics registry.
func New(cfg config.Config, logger *zap.Logger, st store.MessageStore) *Server {
	if st == nil {
		st = store.NewInMemory()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		cfg:     cfg,
		log:     logger,
		store:   st,
		promReg: promReg,
		hub: hub.New(logger.Named("hub"), hub.Options{
			SendBuffer: cfg.Socket.SendBuffer,
			Metrics:    promReg,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement is delegated to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes builds the public handler. Exposed so tests can mount it on an
// ephemeral listener.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("POST /api/messages/{recipient}", s.handleSend)
	mux.HandleFunc("GET /api/messages/{peer}", s.handleThread)
	return mux
}

// Start boots the public and admin listeners and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}

	s.startAdminServer()

	s.httpSrv = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: s.readHeaderTimeout(),
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("chat server listening", zap.String("address", s.cfg.ListenAddress))
	s.ready.Store(true)
	if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// readHeaderTimeout guards the listeners against slow-header clients even
// when the config was built by hand without one.
func (s *Server) readHeaderTimeout() time.Duration {
	if s.cfg.ReadHeaderTimeout > 0 {
		return s.cfg.ReadHeaderTimeout
	}
	return 5 * time.Second
}

func (s *Server) startAdminServer() {
	if s.cfg.AdminAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminSrv = &http.Server{
		Addr:              s.cfg.AdminAddress,
		Handler:           mux,
		ReadHeaderTimeout: s.readHeaderTimeout(),
	}

	go func() {
		if err := s.adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.AdminAddress))
}

// Shutdown drains the listeners and drops every live session.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminSrv != nil {
		if err := s.adminSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	s.hub.Close()
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("http server shutdown", zap.Error(err))
		_ = s.httpSrv.Close()
		return
	}
	s.log.Info("chat server stopped")
}
