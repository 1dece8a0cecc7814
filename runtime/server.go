package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pithecene-io/smelter/log"
)

// shutdownGrace bounds the in-flight drain on shutdown.
const shutdownGrace = 30 * time.Second

// Server is the HTTP front of one stage host: the push endpoint plus
// health and metrics.
type Server struct {
	host   *Host
	logger *log.Logger
	port   int

	srv *http.Server
	ln  net.Listener
}

// NewServer builds the stage server. gatherer feeds /metrics; pass the
// registry the stage's collectors registered on.
func NewServer(port int, host *Host, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	r := chi.NewRouter()
	r.Post("/push", host.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return &Server{
		host:   host,
		logger: logger,
		port:   port,
		srv:    &http.Server{Handler: r},
	}
}

// Listen binds the port. Kept separate from Run so the caller can map a
// binding failure to its own exit code before any delivery is accepted.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", s.port, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run serves until ctx is canceled, then drains in-flight deliveries.
// Call Listen first.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("stage host listening", map[string]any{
		"addr":  s.Addr(),
		"stage": s.host.handler.Stage().String(),
	})

	errc := make(chan error, 1)
	go func() {
		errc <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("stage host draining", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
