package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const outageColumns = `id, time_started, time_ended`

func scanOutage(row interface{ Scan(...any) error }) (Outage, error) {
	var (
		o       Outage
		started nullTime
		ended   nullTime
	)
	if err := row.Scan(&o.ID, &started, &ended); err != nil {
		return Outage{}, err
	}
	o.Started = started.Time
	if ended.Valid {
		o.Ended = ended.Time
	}
	return o, nil
}

func notFound(o Outage, err error) (Outage, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return Outage{}, false, nil
	}
	if err != nil {
		return Outage{}, false, err
	}
	return o, true, nil
}

// OpenOutage returns the interval with no end time, if any.
func (s *Store) OpenOutage(ctx context.Context) (Outage, bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	db, err := s.conn(ctx)
	if err != nil {
		return Outage{}, false, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+outageColumns+` FROM power_outages WHERE time_ended IS NULL ORDER BY id DESC LIMIT 1`)
	return notFound(scanOutage(row))
}

// Outages returns the most recent intervals, newest first.
func (s *Store) Outages(ctx context.Context, limit int) ([]Outage, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		s.d.rebind(`SELECT `+outageColumns+` FROM power_outages ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outage
	for rows.Next() {
		o, err := scanOutage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// OpenOutage is the locking variant used inside a transaction.
func (t *Tx) OpenOutage(ctx context.Context) (Outage, bool, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+outageColumns+` FROM power_outages WHERE time_ended IS NULL ORDER BY id DESC LIMIT 1`+t.d.forUpdate())
	return notFound(scanOutage(row))
}

// LatestOutage returns the row with the highest id.
func (t *Tx) LatestOutage(ctx context.Context) (Outage, bool, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+outageColumns+` FROM power_outages ORDER BY id DESC LIMIT 1`+t.d.forUpdate())
	return notFound(scanOutage(row))
}

// InsertOutage opens a new interval starting at started.
func (t *Tx) InsertOutage(ctx context.Context, started time.Time) (Outage, error) {
	started = dbTime(started)
	const insert = `INSERT INTO power_outages (time_started, time_ended) VALUES (?, NULL)`
	if !t.d.returning() {
		res, err := t.tx.ExecContext(ctx, insert, started)
		if err != nil {
			return Outage{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Outage{}, err
		}
		return Outage{ID: id, Started: started}, nil
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, t.d.rebind(insert+` RETURNING id`), started).Scan(&id); err != nil {
		return Outage{}, err
	}
	return Outage{ID: id, Started: started}, nil
}

// CloseOutage sets time_ended on an open row. It reports false when the row
// was missing or already closed.
func (t *Tx) CloseOutage(ctx context.Context, id int64, ended time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		t.d.rebind(`UPDATE power_outages SET time_ended = ? WHERE id = ? AND time_ended IS NULL`),
		dbTime(ended), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
