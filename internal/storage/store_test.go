package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "lightsout/pkg/logx"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	cfg := Config{
		Driver:    "sqlite",
		Path:      filepath.Join(t.TempDir(), "test.db"),
		OpTimeout: 5 * time.Second,
	}
	st, err := Open(context.Background(), cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE id = ? AND b = ?`
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1 WHERE id = $2 AND b = $3`, dialectPostgres.rebind(q))
}

func TestPostgresDSN(t *testing.T) {
	dsn := dialectPostgres.dsn(Config{Host: "db", User: "bot", Password: "p@ss", Name: "power"})
	assert.Equal(t, "postgres://bot:p%40ss@db:5432/power?sslmode=disable", dsn)
}

func TestParseDialect(t *testing.T) {
	for _, in := range []string{"", "sqlite", "SQLite3"} {
		d, err := parseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, dialectSQLite, d)
	}
	d, err := parseDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, dialectPostgres, d)

	d, err = parseDialect("MariaDB")
	require.NoError(t, err)
	assert.Equal(t, dialectMySQL, d)
	assert.Equal(t, "mysql", d.sqlDriver())

	_, err = parseDialect("mongo")
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	mc, err := mysql.ParseDSN(dialectMySQL.dsn(Config{Host: "db", User: "bot", Password: "p@ss"}))
	require.NoError(t, err)
	assert.Equal(t, "tcp", mc.Net)
	assert.Equal(t, "db:3306", mc.Addr)
	assert.Equal(t, "bot", mc.User)
	assert.Equal(t, "p@ss", mc.Passwd)
	assert.Equal(t, "lightsout", mc.DBName)
	assert.True(t, mc.ParseTime)
	assert.True(t, mc.MultiStatements)
	assert.Equal(t, time.UTC, mc.Loc)

	mc, err = mysql.ParseDSN(dialectMySQL.dsn(Config{Host: "db", Port: 3307, Name: "power"}))
	require.NoError(t, err)
	assert.Equal(t, "db:3307", mc.Addr)
	assert.Equal(t, "power", mc.DBName)
}

func TestDialectStatements(t *testing.T) {
	assert.Equal(t, "INSERT IGNORE INTO telegram_subscribers (user_id) VALUES (?)",
		dialectMySQL.insertIgnore("telegram_subscribers"))
	assert.Contains(t, dialectPostgres.insertIgnore("telegram_subscribers"), "ON CONFLICT (user_id) DO NOTHING")
	assert.Equal(t, " FOR UPDATE", dialectMySQL.forUpdate())
	assert.Equal(t, "", dialectSQLite.forUpdate())
	assert.False(t, dialectMySQL.returning())
	assert.True(t, dialectPostgres.returning())
	q := `SELECT 1 FROM t WHERE id = ?`
	assert.Equal(t, q, dialectMySQL.rebind(q), "mysql keeps ? placeholders")
}

func TestMigrationsEmbeddedPerDialect(t *testing.T) {
	for _, d := range []dialect{dialectSQLite, dialectPostgres, dialectMySQL} {
		up, err := migrationsFS.ReadFile("migrations/" + d.String() + "/000001_init.up.sql")
		require.NoError(t, err, d.String())
		assert.Contains(t, string(up), "power_outages_single_open", d.String())
		_, err = migrationsFS.ReadFile("migrations/" + d.String() + "/000001_init.down.sql")
		require.NoError(t, err, d.String())
	}
}

func TestSubscribers(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	ok, err := st.IsSubscribed(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	added, err := st.AddSubscriber(ctx, 42)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = st.AddSubscriber(ctx, 42)
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	_, err = st.AddSubscriber(ctx, 7)
	require.NoError(t, err)

	ids, err := st.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, ids)

	removed, err := st.RemoveSubscriber(ctx, 42)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = st.RemoveSubscriber(ctx, 42)
	require.NoError(t, err)
	assert.False(t, removed)

	ids, err = st.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)
}

func TestAuthorizedUsers(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	ok, err := st.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.AuthorizeUser(ctx, 1)
	require.NoError(t, err)

	ok, err = st.IsAuthorized(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOutageLifecycle(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	loc := time.FixedZone("EET", 2*3600)
	off := time.Date(2024, 3, 1, 14, 5, 0, 0, loc)
	on := off.Add(90 * time.Minute)

	_, ok, err := st.OpenOutage(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	var opened Outage
	err = st.Tx(ctx, func(tx *Tx) error {
		var err error
		opened, err = tx.InsertOutage(ctx, off)
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, opened.ID)

	cur, ok, err := st.OpenOutage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, opened.ID, cur.ID)
	assert.True(t, cur.Started.Equal(off), "started %v", cur.Started)
	assert.True(t, cur.Open())

	err = st.Tx(ctx, func(tx *Tx) error {
		latest, ok, err := tx.LatestOutage(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		closed, err := tx.CloseOutage(ctx, latest.ID, on)
		assert.True(t, closed)
		return err
	})
	require.NoError(t, err)

	_, ok, err = st.OpenOutage(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := st.Outages(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Ended.Equal(on), "ended %v", list[0].Ended)
}

func TestSingleOpenIntervalIndex(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.Tx(ctx, func(tx *Tx) error {
		_, err := tx.InsertOutage(ctx, now)
		return err
	}))
	err := st.Tx(ctx, func(tx *Tx) error {
		_, err := tx.InsertOutage(ctx, now.Add(time.Minute))
		return err
	})
	assert.Error(t, err, "a second open interval violates the unique index")
}

func TestTxRollback(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	err := st.Tx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertOutage(ctx, time.Now()); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, ok, err := st.OpenOutage(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconnectAfterClose(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	_, err := st.AddSubscriber(ctx, 5)
	require.NoError(t, err)

	// Simulate a dropped session.
	st.mu.RLock()
	db := st.db
	st.mu.RUnlock()
	require.NoError(t, db.Close())

	ids, err := st.ListSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, ids)
	assert.Equal(t, uint64(1), st.Reconnects())
}

func TestClosedStore(t *testing.T) {
	st := openTest(t)
	require.NoError(t, st.Close())
	_, err := st.ListSubscribers(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnreachablePostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Port 1 is never a postgres server.
	_, err := Open(ctx, Config{Driver: "postgres", Host: "127.0.0.1", Port: 1}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenUnreachableMySQL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Open(ctx, Config{Driver: "mysql", Host: "127.0.0.1", Port: 1}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenRequiresHost(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"}, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql host is required")
}

func TestNullTimeScan(t *testing.T) {
	var n nullTime
	require.NoError(t, n.Scan("2024-03-01 14:05:00.5+02:00"))
	assert.True(t, n.Valid)
	assert.Equal(t, 14, n.Time.Hour())

	require.NoError(t, n.Scan([]byte("2024-03-01T12:05:00Z")))
	assert.Equal(t, 12, n.Time.Hour())

	require.NoError(t, n.Scan("2024-03-01 14:05:00 +0200 EET m=+0.000123"))
	assert.Equal(t, 14, n.Time.Hour())

	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)

	assert.Error(t, n.Scan("yesterday"))
	assert.Error(t, n.Scan(3.5))
}

func TestParseKeepalive(t *testing.T) {
	_, err := ParseKeepalive("@every 30s")
	assert.NoError(t, err)
	_, err = ParseKeepalive("*/10 * * * * *")
	assert.NoError(t, err)
	_, err = ParseKeepalive("nonsense")
	assert.Error(t, err)
}

func TestKeepaliveDisabled(t *testing.T) {
	k, err := StartKeepalive(nil, "", logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, k)
	k.Stop()
}
