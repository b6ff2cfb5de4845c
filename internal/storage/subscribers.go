package storage

import (
	"context"
	"database/sql"
	"errors"
)

// ListSubscribers returns every subscribed user id.
func (s *Store) ListSubscribers(ctx context.Context) ([]int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT user_id FROM telegram_subscribers ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM telegram_subscribers WHERE user_id = ?`, userID)
}

// AddSubscriber inserts userID. It reports false when the row already existed.
func (s *Store) AddSubscriber(ctx context.Context, userID int64) (bool, error) {
	return s.exec(ctx, s.d.insertIgnore("telegram_subscribers"), userID)
}

// RemoveSubscriber deletes userID. It reports false when no row matched.
func (s *Store) RemoveSubscriber(ctx context.Context, userID int64) (bool, error) {
	return s.exec(ctx, `DELETE FROM telegram_subscribers WHERE user_id = ?`, userID)
}

func (s *Store) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM telegram_authorized_users WHERE user_id = ?`, userID)
}

// AuthorizeUser adds userID to the allow-list. Only the operator
// -authorize flag calls this; the bot never grants access itself.
func (s *Store) AuthorizeUser(ctx context.Context, userID int64) (bool, error) {
	return s.exec(ctx, s.d.insertIgnore("telegram_authorized_users"), userID)
}

func (s *Store) exists(ctx context.Context, q string, args ...any) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, s.d.rebind(q), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
