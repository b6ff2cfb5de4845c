package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"lightsout/internal/clock"
	"lightsout/internal/notifier/broadcast"
	"lightsout/internal/storage"
	"lightsout/internal/webhook"
	logx "lightsout/pkg/logx"
)

// Validate rejects configs the app cannot start (or hot-reload) with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or TELEGRAM_TOKEN)")
	}
	if cfg.Webhook.APIKey == "" {
		return errors.New("webhook.api_key is required (or BOT_API_KEY)")
	}
	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"storage.op_timeout", cfg.Storage.OpTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"broadcast.send_timeout", cfg.Broadcast.SendTimeout},
		{"broadcast.timeout", cfg.Broadcast.Timeout},
		{"broadcast.grace", cfg.Broadcast.Grace},
		{"commands.timeout", cfg.Commands.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	// Power responses are written after the broadcast, so the write deadline
	// has to outlast it.
	write, _ := ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, webhook.DefaultWriteTimeout)
	total, _ := ParseDurationOrDefault("broadcast.timeout", cfg.Broadcast.Timeout, broadcast.DefaultTimeout)
	if write <= total {
		return fmt.Errorf("http.write_timeout (%s) must be greater than broadcast.timeout (%s)", write, total)
	}
	if cfg.Broadcast.Workers < 0 {
		return errors.New("broadcast.workers must be >= 0")
	}
	if cfg.Broadcast.RatePerSec < 0 {
		return errors.New("broadcast.rate_per_sec must be >= 0")
	}
	if cfg.Commands.Workers < 0 {
		return errors.New("commands.workers must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Clock.Timezone); tz != "" {
		if _, err := clock.LoadLocation(tz); err != nil {
			return fmt.Errorf("clock.timezone: %w", err)
		}
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.Host) == "" {
			return errors.New("storage.host is required when storage.driver=postgres")
		}
	case "mysql", "mariadb":
		if strings.TrimSpace(cfg.Storage.Host) == "" {
			return errors.New("storage.host is required when storage.driver=mysql")
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	if spec := strings.TrimSpace(cfg.Storage.Keepalive); spec != "" {
		if _, err := storage.ParseKeepalive(spec); err != nil {
			return fmt.Errorf("storage.keepalive: %w", err)
		}
	}
	if addr := strings.TrimSpace(cfg.Debug.PprofAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("debug.pprof_addr: %w", err)
		}
	}
	if cfg.Storage.Port < 0 || cfg.Storage.Port > 65535 {
		return fmt.Errorf("storage.port out of range: %d", cfg.Storage.Port)
	}
	return nil
}

// SummarizeChange lists the top-level sections that differ between two configs.
// Secrets are never compared by value in the output, only as changed/unchanged.
func SummarizeChange(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
	}
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
	}
	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
	}
	if oldCfg.Clock != newCfg.Clock {
		changed = append(changed, "clock")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
	}
	return changed
}
