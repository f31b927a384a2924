// Package window resolves the date window a pipeline run loads.
package window

import (
	"fmt"
	"time"
)

// dateLayout is the day part of a window bound; bounds always fall on midnight.
const dateLayout = "2006-01-02"

// now is replaced in tests.
var now = time.Now

// Window is the closed time range of one pipeline run. It is computed once and
// shared read-only by every page and worker of the run.
type Window struct {
	From string
	To   string
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return w.From + ".." + w.To
}

// Resolve returns the window ending on the date of asOf and starting daysBack
// days earlier. The date component of asOf is used as-is, without timezone
// conversion; a zero asOf means today in local time.
func Resolve(daysBack int, asOf time.Time) Window {
	if asOf.IsZero() {
		asOf = now()
	}
	y, m, d := asOf.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -daysBack)

	return Window{
		From: formatBound(start),
		To:   formatBound(end),
	}
}

func formatBound(t time.Time) string {
	return t.Format(dateLayout) + "T00:00:00Z"
}

// ParseAsOf parses an execution date given as 2006-01-02 or RFC 3339.
// An empty string yields the zero time.
func ParseAsOf(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as-of date %q: want YYYY-MM-DD or RFC 3339", value)
	}
	return t, nil
}
