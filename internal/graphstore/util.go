package graphstore

import "time"

// nullTime converts a zero time.Time to nil so it is stored as SQL NULL
// rather than the year-one epoch.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
