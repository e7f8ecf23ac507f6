package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/ranya-core/internal/eventbus"
	"github.com/harun/ranya-core/internal/observability"
	"github.com/rs/zerolog"
)

// httpServer exposes the event bus's websocket upgrade at "/events"
// (EVENT_HTTP_ENDPOINT names only this outbound address) plus metrics
// and a liveness check. It carries no inbound trigger routes:
// onMessageReceived/resume stay plain Go method calls on the Loop a
// caller holds directly.
type httpServer struct {
	server *http.Server
	logger zerolog.Logger
}

func newHTTPServer(bus *eventbus.Broadcaster, logger zerolog.Logger) *httpServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", bus.ServeHTTP)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &httpServer{
		server: &http.Server{Handler: mux},
		logger: logger,
	}
}

func (s *httpServer) Start(addr string) error {
	if addr == "" {
		return nil
	}
	s.server.Addr = addr
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("event http server stopped unexpectedly")
		}
	}()
	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	if s.server.Addr == "" {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown event http server: %w", err)
	}
	return nil
}
