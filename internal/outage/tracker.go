// Package outage records power outage intervals.
//
// The tracker has two states: powered (no open interval) and outage
// (exactly one open interval). Start moves powered to outage, End moves
// outage back to powered.
package outage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lightsout/internal/storage"
	logx "lightsout/pkg/logx"
)

var (
	// ErrNoOpenOutage is returned by End when there is nothing to close.
	ErrNoOpenOutage = errors.New("no open outage")
	// ErrOutageAlreadyOpen is returned by Start while an interval is open.
	ErrOutageAlreadyOpen = errors.New("outage already open")
)

type Record = storage.Outage

// Store is the transactional persistence the tracker writes through.
type Store interface {
	Tx(ctx context.Context, fn func(tx *storage.Tx) error) error
	OpenOutage(ctx context.Context) (storage.Outage, bool, error)
}

// Tracker is the only writer of outage intervals.
type Tracker struct {
	st  Store
	log logx.Logger

	mu sync.Mutex
}

func NewTracker(st Store, log logx.Logger) *Tracker {
	return &Tracker{st: st, log: log.With(logx.String("comp", "tracker"))}
}

// Start opens an interval at t.
func (tr *Tracker) Start(ctx context.Context, t time.Time) (Record, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var rec Record
	err := tr.st.Tx(ctx, func(tx *storage.Tx) error {
		open, ok, err := tx.OpenOutage(ctx)
		if err != nil {
			return err
		}
		if ok {
			rec = open
			return ErrOutageAlreadyOpen
		}
		rec, err = tx.InsertOutage(ctx, t)
		return err
	})
	switch {
	case errors.Is(err, ErrOutageAlreadyOpen):
		tr.log.Warn("power off ignored, outage already open",
			logx.Int64("id", rec.ID), logx.Time("started", rec.Started))
		return rec, err
	case err != nil:
		return Record{}, fmt.Errorf("start outage: %w", err)
	}
	tr.log.Info("outage started", logx.Int64("id", rec.ID), logx.Time("started", rec.Started))
	return rec, nil
}

// End closes the most recent interval at t. If the latest record is already
// closed, or none exists, nothing is written.
func (tr *Tracker) End(ctx context.Context, t time.Time) (Record, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var rec Record
	err := tr.st.Tx(ctx, func(tx *storage.Tx) error {
		latest, ok, err := tx.LatestOutage(ctx)
		if err != nil {
			return err
		}
		if !ok || !latest.Open() {
			return ErrNoOpenOutage
		}
		closed, err := tx.CloseOutage(ctx, latest.ID, t)
		if err != nil {
			return err
		}
		if !closed {
			return ErrNoOpenOutage
		}
		latest.Ended = t
		rec = latest
		return nil
	})
	switch {
	case errors.Is(err, ErrNoOpenOutage):
		tr.log.Warn("power on without an open outage")
		return Record{}, err
	case err != nil:
		return Record{}, fmt.Errorf("end outage: %w", err)
	}
	tr.log.Info("outage ended", logx.Int64("id", rec.ID),
		logx.Time("started", rec.Started), logx.Duration("lasted", rec.Ended.Sub(rec.Started)))
	return rec, nil
}

// Current returns the open interval, if any.
func (tr *Tracker) Current(ctx context.Context) (Record, bool, error) {
	rec, ok, err := tr.st.OpenOutage(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("current outage: %w", err)
	}
	return rec, ok, nil
}
