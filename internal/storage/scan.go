package storage

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// nullTime scans TIMESTAMP columns from either driver. SQLite may hand back
// text while pgx returns time.Time.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = x, true
		return nil
	case string:
		return n.parse(x)
	case []byte:
		return n.parse(string(x))
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
}

func (n *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	// time.Time.String may append a monotonic reading.
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", s)
}

// dbTime strips the monotonic reading before a value is written.
func dbTime(t time.Time) time.Time { return t.Round(0) }
