// Package server wires the execution history HTTP surface, its gRPC health
// endpoint and the storage lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	platformgrpc "github.com/louisbranch/benchhistory/internal/platform/grpc"
	"github.com/louisbranch/benchhistory/internal/platform/timeouts"
	"github.com/louisbranch/benchhistory/internal/services/history/feed"
	"github.com/louisbranch/benchhistory/internal/services/history/row"
	historysqlite "github.com/louisbranch/benchhistory/internal/services/history/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// HealthServiceName is the gRPC health service reported by the history server.
const HealthServiceName = "benchhistory.History"

// Config configures a history server.
type Config struct {
	// HTTPAddr is the page and API listen address.
	HTTPAddr string
	// GRPCAddr is the health listen address. Empty disables gRPC.
	GRPCAddr string
	DBPath   string
	// CommitBaseURL is the repository that commit links point to.
	CommitBaseURL string
	// Location is the display timezone. Nil means UTC.
	Location *time.Location
	Logger   *log.Logger
}

// Server hosts the history HTTP surface and gRPC health.
type Server struct {
	httpListener net.Listener
	grpcListener net.Listener
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	hub          *feed.Hub
	store        *historysqlite.Store
	logger       *log.Logger
}

// NewServer opens storage, binds listeners and composes the handler.
func NewServer(_ context.Context, cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("database path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	renderer, err := row.NewRenderer(row.Options{
		CommitBaseURL: cfg.CommitBaseURL,
		Location:      cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("configure row renderer: %w", err)
	}

	store, err := historysqlite.Open(cfg.DBPath, historysqlite.WithLocation(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("open execution store: %w", err)
	}

	hub := feed.NewHub(logger)
	handler, err := NewHandler(Dependencies{
		Store:    store,
		Renderer: renderer,
		Hub:      hub,
		NewID:    uuid.NewString,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("compose history handler: %w", err)
	}

	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}

	s := &Server{
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		hub:    hub,
		store:  store,
		logger: logger,
	}

	if grpcAddr := strings.TrimSpace(cfg.GRPCAddr); grpcAddr != "" {
		grpcListener, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("listen on %s: %w", grpcAddr, err)
		}
		s.grpcListener = grpcListener
		s.grpcServer = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		s.health = platformgrpc.NewHealthServer(s.grpcServer, HealthServiceName)
	}
	return s, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or empty when gRPC is disabled.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates a server and serves it until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs HTTP and gRPC until context cancellation or a listener failure.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	serveErr := make(chan error, 2)
	s.logger.Printf("history http listening addr=%s", s.HTTPAddr())
	go func() {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve http: %w", err)
			return
		}
		serveErr <- nil
	}()
	if s.grpcServer != nil {
		s.logger.Printf("history grpc listening addr=%s", s.GRPCAddr())
		go func() {
			if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				serveErr <- fmt.Errorf("serve gRPC: %w", err)
				return
			}
			serveErr <- nil
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-serveErr:
		shutdownErr := s.shutdown()
		if err != nil {
			return err
		}
		return shutdownErr
	}
}

func (s *Server) shutdown() error {
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	// Shutdown does not track hijacked websocket connections.
	s.hub.Close()
	if err != nil {
		return fmt.Errorf("shutdown history http server: %w", err)
	}
	return nil
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Printf("close execution store: %v", err)
		}
	}
}
