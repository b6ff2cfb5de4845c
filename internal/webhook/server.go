package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logx "lightsout/pkg/logx"
)

// DefaultWriteTimeout must stay above broadcast.DefaultTimeout: power
// responses are written only after the broadcast finishes.
const DefaultWriteTimeout = 3 * time.Minute

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg ServerConfig, h http.Handler, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: cfg.ReadTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		log: log.With(logx.String("comp", "http")),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.srv.Addr)
}

// Serve blocks until Shutdown. http.ErrServerClosed is not reported.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires, then closes what is left.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if err != nil {
		s.log.Warn("http shutdown incomplete, closing", logx.Err(err))
		_ = s.srv.Close()
	}
	return err
}
