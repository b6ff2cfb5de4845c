// Package debug runs the optional profiling listener.
package debug

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	logx "lightsout/pkg/logx"
)

// ErrInsecure is returned by Start for a public address without a token.
var ErrInsecure = errors.New("pprof: non-loopback addr requires token or allow_insecure")

type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
}

// Server serves net/http/pprof under /debug/pprof/ and expvar under /debug/vars.
type Server struct {
	cfg Config
	log logx.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, log logx.Logger) *Server {
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "pprof"))}
}

// Handler returns the routed profiler, guarded by the bearer token when set.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(bearer(s.cfg.Token))
	r.Mount("/debug", middleware.Profiler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start binds the listener and serves in the background. An empty Addr is a no-op.
func (s *Server) Start() error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		return nil
	}
	if strings.TrimSpace(s.cfg.Token) == "" && !isLoopbackAddr(addr) {
		if !s.cfg.AllowInsecure {
			return fmt.Errorf("%w: %s", ErrInsecure, addr)
		}
		s.log.Warn("pprof running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv, s.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("pprof server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.String("hint", "http://"+ln.Addr().String()+"/debug/pprof/"),
	)
	return nil
}

// Addr reports the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	s.log.Info("pprof stopped")
	return err
}

func bearer(token string) func(http.Handler) http.Handler {
	tok := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(tok) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), tok) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
