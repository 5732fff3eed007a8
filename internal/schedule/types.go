package schedule

import (
	"errors"
	"time"
)

// ErrUnreadable marks a schedule source that could not be read at all
// (missing file, bad headers, I/O error). Row-level problems are reported
// as Warnings instead and never fail a resolution.
var ErrUnreadable = errors.New("schedule source unreadable")

// Row is one line of a tabular schedule: deliver TrackName (found under
// Path relative to the data dir) on Date. Duplicates are legal; each row
// is delivered independently.
type Row struct {
	Date      time.Time // calendar date, time-of-day zeroed
	Path      string
	TrackName string
	Enabled   bool
}

// Warning describes a skipped malformed row.
type Warning struct {
	File   string
	Line   int
	Reason string
}

// SameDate reports whether the row is scheduled for the given calendar date.
func (r Row) SameDate(d time.Time) bool {
	ry, rm, rd := r.Date.Date()
	y, m, dd := d.Date()
	return ry == y && rm == m && rd == dd
}
