package ics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupmecal/internal/groupme"
)

const samplePayload = `{
	"response": {
		"events": [
			{"event_id": "keep-1", "name": "Picnic", "start_at": "2024-06-01T17:00:00Z", "end_at": "2024-06-01T19:00:00Z", "updated_at": "2024-05-20T10:00:00Z"},
			{"event_id": "gone", "name": "Cancelled", "start_at": "2024-06-02T17:00:00Z", "deleted_at": "2024-05-21T10:00:00Z"},
			{"event_id": "broken", "name": "No start"},
			{"event_id": "keep-2", "name": "Hike", "start_at": "2024-06-03T14:00:00Z", "location": {"name": "Trailhead"}}
		]
	}
}`

func decodePayload(t *testing.T, s string) *groupme.EventsPayload {
	t.Helper()
	var p groupme.EventsPayload
	require.NoError(t, json.Unmarshal([]byte(s), &p))
	return &p
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 30, 12, 0, 0, 0, time.UTC)
}

func TestBuild(t *testing.T) {
	b := NewBuilder().WithClock(fixedClock)

	doc, stats := b.Build(decodePayload(t, samplePayload), Meta{DisplayName: "Hikers", Timezone: "America/Denver"})
	assert.Equal(t, BuildStats{Included: 2, Deleted: 1, Skipped: 1}, stats)

	assert.Contains(t, doc, "PRODID:"+ProductID)
	assert.Contains(t, doc, "VERSION:2.0")
	assert.Contains(t, doc, "CALSCALE:GREGORIAN")
	assert.Contains(t, doc, "METHOD:PUBLISH")
	assert.Contains(t, doc, "X-WR-CALNAME:GroupMe: Hikers")
	assert.Contains(t, doc, "X-WR-TIMEZONE:America/Denver")

	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 2)

	uids := map[string]*ical.VEvent{}
	for _, ev := range events {
		uids[ev.Id()] = ev
	}
	require.Contains(t, uids, "keep-1")
	require.Contains(t, uids, "keep-2")
	assert.NotContains(t, uids, "gone")
	assert.NotContains(t, uids, "broken")

	picnic := uids["keep-1"]
	assert.Equal(t, "Picnic", picnic.GetProperty(ical.ComponentPropertySummary).Value)
	start, err := picnic.GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)))
	end, err := picnic.GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)))
	assert.NotNil(t, picnic.GetProperty(ical.ComponentPropertyLastModified))
	assert.Nil(t, picnic.GetProperty(ical.ComponentPropertyLocation))

	hike := uids["keep-2"]
	assert.Equal(t, "Trailhead", hike.GetProperty(ical.ComponentPropertyLocation).Value)
	assert.Nil(t, hike.GetProperty(ical.ComponentPropertyDtEnd))
	assert.Nil(t, hike.GetProperty(ical.ComponentPropertyLastModified))
}

func TestBuild_EmptyPayload(t *testing.T) {
	b := NewBuilder()

	doc, stats := b.Build(nil, Meta{DisplayName: "Empty", Timezone: "UTC"})
	assert.Equal(t, BuildStats{}, stats)
	assert.Contains(t, doc, "X-WR-CALNAME:GroupMe: Empty")
	assert.NotContains(t, doc, "BEGIN:VEVENT")
}

func TestBuildError(t *testing.T) {
	b := NewBuilder()

	doc := b.BuildError("unable to load events", "Hikers")
	assert.Contains(t, doc, "X-WR-CALNAME:GroupMe: Hikers (unable to load events)")
	assert.Contains(t, doc, "X-WR-TIMEZONE:"+ErrorTimezone)
	assert.Contains(t, doc, "METHOD:PUBLISH")
	assert.NotContains(t, doc, "BEGIN:VEVENT")
}

func TestBuild_WrongTypedEntryIsSkipped(t *testing.T) {
	const mixed = `{"response": {"events": [
		{"event_id": "ok-1", "name": "Picnic", "start_at": "2024-06-01T17:00:00Z"},
		{"event_id": 42, "name": "Numeric id", "start_at": "2024-06-01T17:00:00Z"},
		{"event_id": "bad-loc", "name": "String location", "start_at": "2024-06-01T17:00:00Z", "location": "Park"},
		{"event_id": "ok-2", "name": "Hike", "start_at": "2024-06-03T14:00:00Z"}
	]}}`
	b := NewBuilder().WithClock(fixedClock)

	doc, stats := b.Build(decodePayload(t, mixed), Meta{DisplayName: "Hikers", Timezone: "UTC"})
	assert.Equal(t, BuildStats{Included: 2, Skipped: 2}, stats)

	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)
	var uids []string
	for _, ev := range cal.Events() {
		uids = append(uids, ev.Id())
	}
	assert.ElementsMatch(t, []string{"ok-1", "ok-2"}, uids)
}
