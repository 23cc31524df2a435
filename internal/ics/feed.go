package ics

import (
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"

	"groupmecal/internal/groupme"
	appLog "groupmecal/internal/log"
	"groupmecal/internal/model"
)

const (
	ProductID     = "-//Andrew Mussey//GroupMe-to-ICS 0.1//EN"
	calendarScale = "GREGORIAN"
	namePrefix    = "GroupMe: "

	// ErrorTimezone is the X-WR-TIMEZONE of error documents.
	ErrorTimezone = "America/Chicago"
)

// Meta carries the feed-level values that vary per build.
type Meta struct {
	DisplayName string
	Timezone    string
}

// BuildStats summarizes one Build call.
type BuildStats struct {
	Included int
	Deleted  int
	Skipped  int
}

// Builder renders GroupMe payloads into iCalendar text.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a Builder stamping events with the current time.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// WithClock replaces the DTSTAMP clock. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build maps every raw event and serializes the resulting calendar.
// Soft-deleted events are dropped silently; events that fail to decode or
// map are logged and dropped. Build itself never fails.
func (b *Builder) Build(payload *groupme.EventsPayload, meta Meta) (string, BuildStats) {
	var stats BuildStats

	cal := newCalendar(namePrefix+meta.DisplayName, meta.Timezone)
	stamp := b.now().UTC()

	for _, entry := range payload.Events() {
		ev, err := MapRawEvent(entry)
		if err != nil {
			stats.Skipped++
			var fe *FieldError
			if errors.As(err, &fe) {
				appLog.Error("skipping event", err, "event_id", fe.EventID, "field", fe.Field)
			} else {
				appLog.Error("skipping event", err)
			}
			continue
		}
		if ev == nil {
			stats.Deleted++
			continue
		}
		addEvent(cal, *ev, stamp)
		stats.Included++
	}

	appLog.Debug("feed built",
		"included", stats.Included,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
	)
	return cal.Serialize(), stats
}

// BuildError renders an event-less calendar whose name carries errText.
// Calendar clients show the name, so subscribers see the failure.
func (b *Builder) BuildError(errText, displayName string) string {
	cal := newCalendar(namePrefix+displayName+" ("+errText+")", ErrorTimezone)
	return cal.Serialize()
}

func newCalendar(name, timezone string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetVersion("2.0")
	cal.SetCalscale(calendarScale)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(timezone)
	return cal
}

func addEvent(cal *ical.Calendar, ev model.CalendarEvent, stamp time.Time) {
	ve := cal.AddEvent(ev.UID)
	ve.SetDtStampTime(stamp)
	ve.SetStartAt(ev.Start)
	if ev.HasEnd() {
		ve.SetEndAt(ev.End)
	}
	ve.SetSummary(ev.Summary)
	ve.SetDescription(ev.Description)
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.HasLastModified() {
		ve.SetModifiedAt(ev.LastModified)
	}
}
