package app

import (
	"fmt"
	"strings"
	"time"

	"lightsout/internal/config"
	"lightsout/internal/debug"
	"lightsout/internal/notifier/broadcast"
	"lightsout/internal/storage"
	"lightsout/internal/transport/telegram/router"
	"lightsout/internal/webhook"
	logx "lightsout/pkg/logx"
)

const (
	defaultDBPath          = "./data/lightsout.db"
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultShutdownTimeout = 10 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	opTimeout, err := config.ParseDurationOrDefault("storage.op_timeout", sc.OpTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultDBPath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, OpTimeout: opTimeout}, nil
	case "postgres", "postgresql", "pgx":
		return storage.Config{
			Driver:    "postgres",
			Host:      strings.TrimSpace(sc.Host),
			Port:      sc.Port,
			User:      sc.User,
			Password:  sc.Password,
			Name:      sc.Name,
			SSLMode:   sc.SSLMode,
			OpTimeout: opTimeout,
		}, nil
	case "mysql", "mariadb":
		return storage.Config{
			Driver:    "mysql",
			Host:      strings.TrimSpace(sc.Host),
			Port:      sc.Port,
			User:      sc.User,
			Password:  sc.Password,
			Name:      sc.Name,
			OpTimeout: opTimeout,
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	send, err := config.ParseDurationField("broadcast.send_timeout", bc.SendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	total, err := config.ParseDurationField("broadcast.timeout", bc.Timeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	grace, err := config.ParseDurationField("broadcast.grace", bc.Grace)
	if err != nil {
		return broadcast.Config{}, err
	}
	// Zero values fall through to the dispatcher defaults.
	return broadcast.Config{
		Workers:     bc.Workers,
		RatePerSec:  bc.RatePerSec,
		SendTimeout: send,
		Timeout:     total,
		Grace:       grace,
	}, nil
}

func mapCommandOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationField("commands.timeout", cfg.Commands.Timeout)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{Workers: cfg.Commands.Workers, Timeout: timeout}, nil
}

func mapServerConfig(cfg *config.Config) (webhook.ServerConfig, time.Duration, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return webhook.ServerConfig{}, 0, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return webhook.ServerConfig{}, 0, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", hc.ShutdownTimeout, defaultShutdownTimeout)
	if err != nil {
		return webhook.ServerConfig{}, 0, err
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	return webhook.ServerConfig{Addr: addr, ReadTimeout: read, WriteTimeout: write}, shutdown, nil
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	return debug.Config{
		Addr:          strings.TrimSpace(cfg.Debug.PprofAddr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}
