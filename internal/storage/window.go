package storage

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAt returns the window of the given size that contains now. Windows
// are aligned in UTC: a 24h window is the calendar day, a 1m window the
// calendar minute.
func WindowAt(now time.Time, size time.Duration) Window {
	start := now.UTC().Truncate(size)
	return Window{Start: start, End: start.Add(size)}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// stamp returns the stored timestamp for t: unix seconds at minute
// resolution.
func stamp(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).Unix()
}
