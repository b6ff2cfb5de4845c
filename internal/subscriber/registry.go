// Package subscriber keeps the set of Telegram users that receive outage
// notifications.
package subscriber

import (
	"context"
	"fmt"

	logx "lightsout/pkg/logx"
)

// Store is the persistence the registry needs. *storage.Store implements it.
type Store interface {
	ListSubscribers(ctx context.Context) ([]int64, error)
	IsSubscribed(ctx context.Context, userID int64) (bool, error)
	AddSubscriber(ctx context.Context, userID int64) (bool, error)
	RemoveSubscriber(ctx context.Context, userID int64) (bool, error)
}

type Registry struct {
	st  Store
	log logx.Logger
}

func New(st Store, log logx.Logger) *Registry {
	return &Registry{st: st, log: log.With(logx.String("comp", "subscribers"))}
}

// List returns the current subscribers in no particular order.
func (r *Registry) List(ctx context.Context) ([]int64, error) {
	ids, err := r.st.ListSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return ids, nil
}

func (r *Registry) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	ok, err := r.st.IsSubscribed(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check subscriber %d: %w", userID, err)
	}
	return ok, nil
}

// Add subscribes userID. It is idempotent and reports whether a row was created.
func (r *Registry) Add(ctx context.Context, userID int64) (bool, error) {
	added, err := r.st.AddSubscriber(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("add subscriber %d: %w", userID, err)
	}
	if added {
		r.log.Info("subscriber added", logx.Int64("user_id", userID))
	}
	return added, nil
}

// Remove unsubscribes userID. Removing an absent user is not an error.
func (r *Registry) Remove(ctx context.Context, userID int64) (bool, error) {
	removed, err := r.st.RemoveSubscriber(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("remove subscriber %d: %w", userID, err)
	}
	if removed {
		r.log.Info("subscriber removed", logx.Int64("user_id", userID))
	} else {
		r.log.Debug("remove: user was not subscribed", logx.Int64("user_id", userID))
	}
	return removed, nil
}
