package model

import "time"

// CalendarEvent is one normalized GroupMe event, ready to be written out
// as a VEVENT. Values are built once by the ics mapper and not mutated.
type CalendarEvent struct {
	UID string // GroupMe event_id

	Summary     string
	Description string

	// Location is empty when the upstream event has no location block.
	Location string

	Start time.Time
	// End is the zero time when the upstream event has no end_at.
	End time.Time

	// LastModified is the zero time when the upstream event has no updated_at.
	LastModified time.Time
}

// HasEnd reports whether the event carries an explicit end instant.
func (e CalendarEvent) HasEnd() bool {
	return !e.End.IsZero()
}

// HasLastModified reports whether the event carries an updated_at instant.
func (e CalendarEvent) HasLastModified() bool {
	return !e.LastModified.IsZero()
}
