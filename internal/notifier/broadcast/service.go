package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "lightsout/internal/transport"
	logx "lightsout/pkg/logx"
)

type Dispatcher struct {
	cfg     Config
	recips  Recipients
	sender  kit.Sender
	log     logx.Logger
	limiter *rate.Limiter
	observe Observer

	// base is cancelled when Stop's grace period runs out.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	active   int
}

type Option func(*Dispatcher)

func WithObserver(fn Observer) Option { return func(d *Dispatcher) { d.observe = fn } }

func New(cfg Config, recips Recipients, sender kit.Sender, log logx.Logger, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		recips:  recips,
		sender:  sender,
		log:     log.With(logx.String("comp", "broadcast")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		base:    base,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// InFlight reports how many broadcasts are running.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.inflight.Add(1)
	d.active++
	return true
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	d.active--
	d.mu.Unlock()
	d.inflight.Done()
}

// Stop refuses new broadcasts, waits up to the grace period for running
// ones, then cancels whatever is left. ctx bounds the total wait.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	grace := time.NewTimer(d.cfg.Grace)
	defer grace.Stop()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-grace.C:
		d.log.Warn("grace period over, cancelling broadcasts", logx.Int("in_flight", d.InFlight()))
	case <-ctx.Done():
	}
	d.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
