// Package broadcast fans one text out to every current subscriber.
//
// Each recipient is an independent send: a failure is logged and counted
// but never stops the others, and nothing is retried.
package broadcast

import (
	"context"
	"errors"
	"time"
)

var ErrStopped = errors.New("dispatcher stopped")

// DefaultTimeout bounds a whole broadcast when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

type Config struct {
	Workers     int           // default 4
	RatePerSec  int           // default 25
	SendTimeout time.Duration // per recipient, default 10s
	Timeout     time.Duration // whole broadcast, default DefaultTimeout
	Grace       time.Duration // Stop waits this long before cancelling, default 5s
}

// Recipients lists chat ids at send time. *subscriber.Registry implements it.
type Recipients interface {
	List(ctx context.Context) ([]int64, error)
}

// Result is the outcome for one recipient.
type Result struct {
	ChatID int64
	Err    error
	Took   time.Duration
}

// Report summarizes one broadcast.
type Report struct {
	Total   int
	Sent    int
	Failed  int
	Results []Result
	Took    time.Duration
}

// Failures returns the results with an error.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Observer receives every per-recipient result (metrics).
type Observer func(Result)
