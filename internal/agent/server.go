package agent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/utrack/hypelens/internal/httpapi"
	"github.com/utrack/hypelens/internal/tap"
	"go.uber.org/zap"
)

// apiServer serves the local status and tap API.
type apiServer struct {
	logger *zap.Logger
	server *http.Server

	mu   sync.Mutex
	addr net.Addr

	startOnce sync.Once
	startErr  error

	shutdownOnce sync.Once
	shutdownErr  error
}

func newAPIServer(addr string, registry *tap.Registry, status httpapi.StatusSource, logger *zap.Logger) *apiServer {
	handler := httpapi.NewHandler(registry, status, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return &apiServer{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// start binds the listener synchronously so address errors reach the caller.
func (s *apiServer) start() error {
	s.startOnce.Do(func() {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			s.startErr = err
			return
		}
		s.mu.Lock()
		s.addr = ln.Addr()
		s.mu.Unlock()

		go func() {
			if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("hypelens API server failed", zap.Error(err), zap.String("addr", s.server.Addr))
			}
		}()
		s.logger.Info("hypelens API listening", zap.Stringer("addr", ln.Addr()))
	})
	return s.startErr
}

// boundAddr is the listening address, nil before start.
func (s *apiServer) boundAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *apiServer) shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if s.boundAddr() == nil {
			return
		}
		s.shutdownErr = s.server.Shutdown(ctx)
	})
	return s.shutdownErr
}
