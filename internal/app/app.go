package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"lightsout/internal/auth"
	"lightsout/internal/clock"
	"lightsout/internal/config"
	"lightsout/internal/coordinator"
	"lightsout/internal/debug"
	"lightsout/internal/eventbus"
	"lightsout/internal/metrics"
	"lightsout/internal/notifier/broadcast"
	"lightsout/internal/outage"
	"lightsout/internal/runtime/supervisor"
	"lightsout/internal/storage"
	"lightsout/internal/subscriber"
	kit "lightsout/internal/transport"
	telegram "lightsout/internal/transport/telegram/adapter"
	"lightsout/internal/transport/telegram/router"
	"lightsout/internal/webhook"
	logx "lightsout/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store *storage.Store
	keep  *storage.Keepalive

	gate    *auth.Gate
	tracker *outage.Tracker
	stats   *metrics.Collector

	adapter *telegram.Adapter
	disp    *broadcast.Dispatcher
	coord   *coordinator.Coordinator
	cmdm    *router.CommandManager

	http            *webhook.Server
	httpLn          net.Listener
	shutdownTimeout time.Duration
	pprof           *debug.Server

	updates chan kit.Message
}

// Option adjusts construction. Production code passes none.
type Option func(*options)

type options struct {
	telegramURL string
}

// WithTelegramURL points the bot at another Bot API endpoint and skips the
// startup getMe call.
func WithTelegramURL(url string) Option { return func(o *options) { o.telegramURL = url } }

// NewApp loads the config and builds every component. Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (_ *App, err error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	loc, err := clock.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		URL:         o.telegramURL,
		Offline:     o.telegramURL != "",
	}, log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats := metrics.NewCollector(reg)

	bus := eventbus.New()
	registry := subscriber.New(store, log)
	gate := auth.NewGate(store, cfg.Webhook.Header, cfg.Webhook.APIKey, log)
	tracker := outage.NewTracker(store, log)

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := broadcast.New(bcfg, registry, ad, log, broadcast.WithObserver(func(r broadcast.Result) {
		stats.RecordNotification(r.Err == nil, r.Took)
	}))

	coord := coordinator.New(coordinator.Deps{
		Clock:            clock.NewLocal(loc),
		Gate:             gate,
		Tracker:          tracker,
		Registry:         registry,
		Notifier:         disp,
		Bus:              bus,
		Metrics:          stats,
		Log:              log,
		BroadcastTimeout: bcfg.Timeout,
	})

	copts, err := mapCommandOptions(cfg)
	if err != nil {
		return nil, err
	}
	cmdm := router.NewCommandManager(log, ad, copts)

	scfg, shutdownTimeout, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var metricsHandler http.Handler
	if cfg.HTTP.Metrics {
		metricsHandler = metrics.Handler(reg)
	}
	srv := webhook.NewServer(scfg, webhook.NewRouter(webhook.Deps{
		Power:   coord,
		Health:  store,
		Metrics: metricsHandler,
		Stats:   stats,
		Log:     log,
	}), log)

	stats.RegisterCounterFunc("store_reconnects_total", "Database sessions reopened after a failed ping.",
		func() float64 { return float64(store.Reconnects()) })
	stats.RegisterCounterFunc("telegram_updates_dropped_total", "Incoming updates dropped because the update channel was full.",
		func() float64 { return float64(ad.Dropped()) })
	stats.RegisterCounterFunc("commands_dropped_total", "Bot commands dropped because the worker queue was full.",
		func() float64 { _, dropped := cmdm.Stats(); return float64(dropped) })
	stats.RegisterCounterFunc("eventbus_dropped_total", "Events dropped because a subscriber was full.",
		func() float64 { return float64(bus.Dropped()) })
	stats.RegisterGaugeFunc("broadcasts_in_flight", "Broadcasts currently delivering.",
		func() float64 { return float64(disp.InFlight()) })

	return &App{
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           store,
		gate:            gate,
		tracker:         tracker,
		stats:           stats,
		adapter:         ad,
		disp:            disp,
		coord:           coord,
		cmdm:            cmdm,
		http:            srv,
		shutdownTimeout: shutdownTimeout,
		pprof:           debug.New(mapDebugConfig(cfg), log),
		updates:         make(chan kit.Message, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound webhook address once Start has returned.
func (a *App) HTTPAddr() string {
	if a.httpLn == nil {
		return ""
	}
	return a.httpLn.Addr().String()
}

// ShutdownTimeout is the configured upper bound for Stop.
func (a *App) ShutdownTimeout() time.Duration { return a.shutdownTimeout }

func (a *App) commands() []router.Command {
	wrap := func(h func(context.Context, int64, coordinator.Reply) error) router.HandlerFunc {
		return func(ctx context.Context, req *router.Request) error {
			return h(ctx, req.FromID, req.Reply)
		}
	}
	return []router.Command{
		{Name: "start", Description: "Підписатися на сповіщення", Handle: wrap(a.coord.HandleStartCommand)},
		{Name: "stop", Description: "Відписатися від сповіщень", Handle: wrap(a.coord.HandleStopCommand)},
		{Name: "status", Description: "Чи є світло зараз", Handle: wrap(a.coord.HandleStatusCommand)},
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })

	keep, err := storage.StartKeepalive(a.store, a.cfgm.Get().Storage.Keepalive, a.log)
	if err != nil {
		return err
	}
	a.keep = keep

	// Seed the gauge from the persisted state.
	if rec, open, err := a.tracker.Current(ctx); err != nil {
		a.log.Warn("outage state unavailable at startup", logx.Err(err))
	} else {
		a.stats.SetOutageOpen(open)
		if open {
			a.log.Info("outage in progress", logx.Int64("id", rec.ID), logx.Time("started", rec.Started))
		}
	}

	ln, err := a.http.Listen()
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	a.httpLn = ln
	a.sup.Go("http.serve", func(context.Context) error { return a.http.Serve(ln) })

	if err := a.pprof.Start(); err != nil {
		a.log.Error("pprof disabled", logx.Err(err))
	}

	a.cmdm.SetCommands(ctx, a.commands())
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.audit", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.audit(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	if wd, err := daemon.SdWatchdogEnabled(false); err == nil && wd > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(wd / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}

	a.log.Info("started",
		logx.String("http_addr", ln.Addr().String()),
		logx.String("storage", a.store.Driver()),
	)
	return nil
}

// audit logs every power-state and subscription event.
func (a *App) audit(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	switch d := e.Data.(type) {
	case eventbus.OutageData:
		fields = append(fields, logx.Int64("outage_id", d.ID))
	case eventbus.SubscriberData:
		fields = append(fields, logx.Int64("user_id", d.UserID))
	}
	a.log.Info("event", fields...)
}

// applyConfig applies the live-reloadable sections and warns about the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	var restart []string
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "webhook":
			a.gate.SetAPIKey(newCfg.Webhook.Header, newCfg.Webhook.APIKey)
		default:
			restart = append(restart, s)
		}
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
	if len(restart) > 0 {
		a.log.Warn("config change requires restart", logx.String("sections", strings.Join(restart, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// In-flight webhook calls finish their broadcast before the listener goes away.
	a.step(ctx, "http", a.shutdownTimeout, func(c context.Context) error { return a.http.Shutdown(c) })
	a.step(ctx, "pprof", time.Second, func(c context.Context) error { return a.pprof.Stop(c) })

	a.sup.Cancel()

	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "broadcast", 10*time.Second, func(c context.Context) error { return a.disp.Stop(c) })
	a.step(ctx, "keepalive", time.Second, func(context.Context) error { a.keep.Stop(); return nil })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// close releases what NewApp opened when Start never ran.
func (a *App) close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if limit > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; anything later is reported as a leak.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
