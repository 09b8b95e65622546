// Package server implements the gRPC server for the daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/engine"
)

// Host is the interface the daemon listens on.
const Host = "127.0.0.1"

// Server is the daemon's gRPC server. Native gRPC and grpc-web share one
// cleartext HTTP/2 port.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	listener   net.Listener
	port       int
	startedAt  time.Time
	logger     *slog.Logger

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	stopOnce     sync.Once
}

// Options configures the server.
type Options struct {
	Port   int    // 0 for dynamic allocation
	Secret string // HS256 secret; empty disables auth
}

// New creates a new server listening on the specified port.
func New(eng *engine.Engine, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listener, err := (&net.ListenConfig{}).Listen(context.TODO(), "tcp", fmt.Sprintf("%s:%d", Host, opts.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	// Get actual port if dynamically allocated
	actualPort := listener.Addr().(*net.TCPAddr).Port

	var serverOpts []grpc.ServerOption
	if opts.Secret != "" {
		auth := &authenticator{secret: opts.Secret}
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(auth.unary),
			grpc.ChainStreamInterceptor(auth.stream),
		)
	}
	grpcServer := grpc.NewServer(serverOpts...)

	srv := &Server{
		grpcServer: grpcServer,
		listener:   listener,
		port:       actualPort,
		startedAt:  time.Now().UTC(),
		logger:     logger.With("component", "server"),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	RegisterTaskServiceServer(grpcServer, &taskService{engine: eng, server: srv})

	web := grpcweb.WrapServer(grpcServer,
		grpcweb.WithOriginFunc(func(string) bool { return true }),
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if web.IsGrpcWebRequest(r) || web.IsAcceptableGrpcCorsRequest(r) {
			web.ServeHTTP(w, r)
			return
		}
		grpcServer.ServeHTTP(w, r)
	})
	srv.httpServer = &http.Server{
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Serve starts serving requests. This blocks until Stop is called.
func (s *Server) Serve() error {
	s.logger.Info("serving", "addr", s.listener.Addr().String())
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes event streams and gracefully stops the server.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("forced server close", "error", err)
			_ = s.httpServer.Close()
		}
		s.grpcServer.Stop()
	})
}

// ShutdownRequested is closed when a client calls Shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutdown requested by client")
		close(s.shutdown)
	})
}
