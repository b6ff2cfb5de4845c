package storage

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
	dialectMySQL
)

func (d dialect) String() string {
	switch d {
	case dialectPostgres:
		return "postgres"
	case dialectMySQL:
		return "mysql"
	}
	return "sqlite"
}

func parseDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return dialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return dialectPostgres, nil
	case "mysql", "mariadb":
		return dialectMySQL, nil
	default:
		return 0, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// sqlDriver is the database/sql driver name registered by the imported driver.
func (d dialect) sqlDriver() string {
	switch d {
	case dialectPostgres:
		return "pgx"
	case dialectMySQL:
		return "mysql"
	}
	return "sqlite"
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (d dialect) rebind(q string) string {
	if d != dialectPostgres || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// forUpdate is appended to read-then-write selects. SQLite transactions are
// opened with BEGIN IMMEDIATE instead (see dsn).
func (d dialect) forUpdate() string {
	if d == dialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// insertIgnore inserts a single user_id row, doing nothing when it exists.
func (d dialect) insertIgnore(table string) string {
	if d == dialectMySQL {
		return `INSERT IGNORE INTO ` + table + ` (user_id) VALUES (?)`
	}
	return `INSERT INTO ` + table + ` (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`
}

// returning reports whether INSERT ... RETURNING is available.
func (d dialect) returning() bool { return d != dialectMySQL }

func (d dialect) dsn(cfg Config) string {
	if d == dialectMySQL {
		return mysqlDSN(cfg)
	}
	if d == dialectPostgres {
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		name := cfg.Name
		if name == "" {
			name = "lightsout"
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			Path:   "/" + name,
		}
		if cfg.User != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		}
		q := url.Values{}
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		q.Set("sslmode", sslmode)
		u.RawQuery = q.Encode()
		return u.String()
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return "file:" + cfg.Path + "?" + q.Encode()
}

func mysqlDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Name
	if mc.DBName == "" {
		mc.DBName = "lightsout"
	}
	// DATETIME carries no zone: store and read UTC.
	mc.ParseTime = true
	mc.Loc = time.UTC
	// Migration files hold several statements.
	mc.MultiStatements = true
	return mc.FormatDSN()
}
