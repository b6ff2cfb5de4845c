package storage

import (
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when the database cannot be reached even
	// after a reconnect attempt.
	ErrUnavailable = errors.New("storage unavailable")
	ErrClosed      = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at Host:Port
//   - "mysql": MySQL or MariaDB at Host:Port, database Name (default "lightsout")
type Config struct {
	Driver string
	Path   string

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	BusyTimeout time.Duration // sqlite only
	OpTimeout   time.Duration // bounds every operation; 0 means 5s
}

// Outage is one row of power_outages. Ended is zero while the interval is open.
type Outage struct {
	ID      int64
	Started time.Time
	Ended   time.Time
}

func (o Outage) Open() bool { return o.Ended.IsZero() }
