package config

// Config is the full lightsout configuration.
//
// It is read from a JSON or YAML file (optional) and then overlaid with
// environment variables (see the env tags). Durations are Go duration strings
// such as "500ms", "10s" or "1m"; empty means "use the default".
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	HTTP      HTTPConfig      `json:"http"`
	Webhook   WebhookConfig   `json:"webhook"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Commands  CommandsConfig  `json:"commands"`
	Clock     ClockConfig     `json:"clock"`
	Logging   LoggingConfig   `json:"logging"`
	Debug     DebugConfig     `json:"debug"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"TELEGRAM_TOKEN"`
	// PollTimeout is the long-poll timeout for getUpdates.
	PollTimeout string `json:"poll_timeout,omitempty" env:"TELEGRAM_POLL_TIMEOUT"`
}

// HTTPConfig controls the webhook listener.
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty" env:"BOT_HTTP_ADDR"` // default: "0.0.0.0:8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// Metrics exposes GET /metrics on the same listener.
	Metrics bool `json:"metrics,omitempty" env:"BOT_HTTP_METRICS"`
}

// WebhookConfig holds the shared secret the grid monitor must present.
//
// api_key is required; the gate rejects every call while it is empty.
type WebhookConfig struct {
	APIKey string `json:"api_key" env:"BOT_API_KEY"`
	Header string `json:"header,omitempty"` // default: "X-API-KEY"
}

// StorageConfig selects the relational store.
//
// Driver values:
//   - "sqlite" (default): database file at Path
//   - "postgres" or "mysql": Host/Port/User/Password/Name
//
// The BOT_MYSQL_HOST/PORT/USER/PASS variables of earlier deployments are
// accepted as well; BOT_MYSQL_HOST alone selects the mysql driver.
//
// Example:
//
//	"storage": { "driver": "postgres", "host": "db", "port": 5432, "user": "bot", "name": "lightsout" }
type StorageConfig struct {
	Driver   string `json:"driver,omitempty" env:"BOT_DB_DRIVER"`
	Path     string `json:"path,omitempty" env:"BOT_DB_PATH"`
	Host     string `json:"host,omitempty" env:"BOT_DB_HOST,BOT_MYSQL_HOST"`
	Port     int    `json:"port,omitempty" env:"BOT_DB_PORT,BOT_MYSQL_PORT"`
	User     string `json:"user,omitempty" env:"BOT_DB_USER,BOT_MYSQL_USER"`
	Password string `json:"password,omitempty" env:"BOT_DB_PASS,BOT_MYSQL_PASS"`
	Name     string `json:"name,omitempty" env:"BOT_DB_NAME"`
	SSLMode  string `json:"sslmode,omitempty" env:"BOT_DB_SSLMODE"`

	// OpTimeout bounds every store operation (including the liveness ping).
	OpTimeout string `json:"op_timeout,omitempty"`
	// BusyTimeout is passed to sqlite as PRAGMA busy_timeout.
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Keepalive is a cron spec for the background store check ("" disables).
	Keepalive string `json:"keepalive,omitempty"`
}

// BroadcastConfig controls subscriber fan-out.
type BroadcastConfig struct {
	Workers     int    `json:"workers,omitempty"`      // default: 4
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default: 25 (Telegram global limit is ~30/s)
	SendTimeout string `json:"send_timeout,omitempty"` // default: 10s per recipient
	Timeout     string `json:"timeout,omitempty"`      // default: 2m per broadcast
	Grace       string `json:"grace,omitempty"`        // default: 5s on shutdown
}

type CommandsConfig struct {
	Workers int    `json:"workers,omitempty"` // default: 2
	Timeout string `json:"timeout,omitempty"` // default: 15s per command
}

type ClockConfig struct {
	Timezone string `json:"timezone,omitempty" env:"BOT_TIMEZONE"` // default: "Europe/Kyiv"
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty" env:"BOT_LOG_LEVEL"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig controls the optional pprof listener.
//
// A non-loopback pprof_addr is refused unless token is set or allow_insecure is true.
type DebugConfig struct {
	PprofAddr     string `json:"pprof_addr,omitempty" env:"BOT_PPROF_ADDR"` // "" disables
	Token         string `json:"token,omitempty" env:"BOT_PPROF_TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
