// Package storage is the relational persistence layer shared by all components.
//
// One Store wraps a database/sql pool (SQLite via modernc.org/sqlite,
// PostgreSQL via pgx, or MySQL via go-sql-driver) and verifies the connection before each operation,
// reconnecting once when it has gone away.
//
// Tables:
//   - telegram_subscribers      (user_id)
//   - telegram_authorized_users (user_id)
//   - power_outages             (id, time_started, time_ended)
package storage
