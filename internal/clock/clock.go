// Package clock supplies timestamps in the grid operator's civil timezone,
// independent of the host's TZ setting.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // minimal hosts often ship without zoneinfo
)

// DefaultTimezone is the grid operator's local time.
const DefaultTimezone = "Europe/Kyiv"

type Clock interface {
	Now() time.Time
}

// LoadLocation resolves name, falling back to DefaultTimezone when empty.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("clock: load location %q: %w", name, err)
	}
	return loc, nil
}

// Local reads the host time source and renders it in a fixed location.
type Local struct {
	loc *time.Location
}

func NewLocal(loc *time.Location) *Local {
	if loc == nil {
		loc = time.UTC
	}
	return &Local{loc: loc}
}

func (c *Local) Now() time.Time { return time.Now().In(c.loc) }

func (c *Local) Location() *time.Location { return c.loc }

// Fixed is a settable clock for tests.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

func (c *Fixed) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Fixed) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *Fixed) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
