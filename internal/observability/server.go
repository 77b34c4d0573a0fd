// Package observability serves /metrics, /healthz and, optionally,
// /debug/pprof on one local HTTP listener.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "teleube/internal/runtime/supervisor"
	logx "teleube/pkg/logx"
)

type Config struct {
	Addr string
	// Pprof mounts /debug/pprof. Refused on non-loopback addresses.
	Pprof bool
}

type Service struct {
	cfg Config
	log logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// scrapeLimit caps requests per client IP per minute.
const scrapeLimit = 120

// Handler builds the router served by Start.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(scrapeLimit, time.Minute))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Pprof {
		r.Mount("/debug", chimw.Profiler())
	}
	return r
}

// Start binds the listener synchronously so address errors surface at
// startup, then serves in the background until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	if s.cfg.Pprof && !isLoopbackAddr(addr) {
		return fmt.Errorf("observability: pprof refused on non-loopback addr %q", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observability listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// observability is optional; never hard-kill the app.
		rtsup.WithCancelOnError(false),
	)
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.log.Error("observability server exited", logx.Err(err))
		return err
	})
	sup.Run("http.shutdown", func(c context.Context) {
		<-c.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	s.log.Info("observability listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

// Addr is the bound address, empty before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	sup.Cancel()
	if werr := sup.Wait(ctx); err == nil {
		err = werr
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
