// Package webhook is the inbound HTTP surface: the power state callbacks plus
// health and metrics endpoints.
package webhook

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lightsout/internal/coordinator"
	"lightsout/internal/metrics"
	logx "lightsout/pkg/logx"
)

// PowerHandler handles authenticated power state callbacks.
type PowerHandler interface {
	HandlePowerOff(ctx context.Context, h http.Header) coordinator.Response
	HandlePowerOn(ctx context.Context, h http.Header) coordinator.Response
}

// Pinger reports store liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Power   PowerHandler
	Health  Pinger       // optional
	Metrics http.Handler // optional, mounted at /metrics
	Stats   *metrics.Collector
	Log     logx.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log.With(logx.String("comp", "webhook"))

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLog(log),
		recoverer(log),
	)

	r.Post("/power_off", power(d.Power.HandlePowerOff, "/power_off", d.Stats))
	r.Post("/power_on", power(d.Power.HandlePowerOn, "/power_on", d.Stats))
	r.Get("/healthz", healthz(d.Health))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return r
}

func power(h func(context.Context, http.Header) coordinator.Response, endpoint string, stats *metrics.Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h(r.Context(), r.Header)
		stats.RecordWebhook(endpoint, resp.Status)
		writeText(w, resp.Status, resp.Body)
	}
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeText(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		writeText(w, http.StatusOK, "ok")
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			fields := []logx.Field{
				logx.String("rid", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.String("remote", r.RemoteAddr),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
			}
			switch {
			case ww.Status() >= 500:
				log.Warn("request failed", fields...)
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				log.Trace("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic recovered",
						logx.String("rid", middleware.GetReqID(r.Context())),
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())))
					writeText(w, http.StatusInternalServerError, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
