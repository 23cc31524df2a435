package ics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"groupmecal/internal/groupme"
	"groupmecal/internal/model"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrBadTimestamp = errors.New("unparsable timestamp")
	ErrMalformed    = errors.New("malformed event record")
)

// FieldError describes why a single raw event could not be mapped.
// It wraps ErrMissingField, ErrBadTimestamp or ErrMalformed.
type FieldError struct {
	EventID string
	Field   string
	Err     error
}

func (e *FieldError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("event: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("event %s: field %s: %v", e.EventID, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

const mapsURLPrefix = "https://www.google.com/maps?q="

// timestampLayouts are tried in order. Offset-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// MapRawEvent decodes one entry of the upstream event list and maps it.
// An entry whose fields have the wrong JSON types yields a *FieldError
// wrapping ErrMalformed.
func MapRawEvent(b json.RawMessage) (*model.CalendarEvent, error) {
	raw, err := groupme.DecodeEvent(b)
	if err != nil {
		return nil, &FieldError{
			EventID: groupme.LooseID(b),
			Field:   "record",
			Err:     fmt.Errorf("%w: %v", ErrMalformed, err),
		}
	}
	return MapEvent(raw)
}

// MapEvent converts one raw GroupMe event into a CalendarEvent.
//
// A soft-deleted event yields (nil, nil). A missing required field or an
// unparsable timestamp yields a *FieldError; the caller decides whether to
// skip the event.
func MapEvent(raw groupme.RawEvent) (*model.CalendarEvent, error) {
	if raw.IsDeleted() {
		return nil, nil
	}

	id := raw.ID()
	if raw.EventID == nil || *raw.EventID == "" {
		return nil, &FieldError{Field: "event_id", Err: ErrMissingField}
	}
	if raw.Name == nil {
		return nil, &FieldError{EventID: id, Field: "name", Err: ErrMissingField}
	}

	start, err := requiredTime(id, "start_at", raw.StartAt)
	if err != nil {
		return nil, err
	}
	end, err := optionalTime(id, "end_at", raw.EndAt)
	if err != nil {
		return nil, err
	}
	modified, err := optionalTime(id, "updated_at", raw.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ev := &model.CalendarEvent{
		UID:          id,
		Summary:      *raw.Name,
		Start:        start,
		End:          end,
		LastModified: modified,
	}

	description := ""
	if raw.Description != nil {
		description = *raw.Description
	}
	ev.Description, ev.Location = composeLocation(description, raw.Location)

	return ev, nil
}

// composeLocation appends the location block to description and returns
// the new description together with the LOCATION value.
func composeLocation(description string, loc *groupme.Location) (string, string) {
	if loc.IsEmpty() {
		return description, ""
	}

	var b strings.Builder
	b.WriteString(description)
	if description != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Location:\n")

	location := ""
	switch {
	case loc.Name != "" && loc.Address != "":
		location = loc.Name + ", " + flattenAddress(loc.Address)
		b.WriteString(loc.Name)
		b.WriteString("\n")
		b.WriteString(loc.Address)
	case loc.Name != "":
		location = loc.Name
		b.WriteString(loc.Name)
	case loc.Address != "":
		location = flattenAddress(loc.Address)
		b.WriteString(location)
	}

	if loc.Lat != "" && loc.Lng != "" {
		link := mapsURLPrefix + string(loc.Lat) + "," + string(loc.Lng)
		if location == "" {
			location = link
		} else {
			b.WriteString("\n")
		}
		b.WriteString(link)
	}

	return b.String(), location
}

// flattenAddress turns a multi-line address into a single line.
func flattenAddress(addr string) string {
	return strings.ReplaceAll(strings.TrimSpace(addr), "\n", ", ")
}

func requiredTime(id, field string, v *string) (time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return time.Time{}, &FieldError{EventID: id, Field: field, Err: ErrMissingField}
	}
	t, err := parseTimestamp(*v)
	if err != nil {
		return time.Time{}, &FieldError{EventID: id, Field: field, Err: err}
	}
	return t, nil
}

func optionalTime(id, field string, v *string) (time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return time.Time{}, nil
	}
	t, err := parseTimestamp(*v)
	if err != nil {
		return time.Time{}, &FieldError{EventID: id, Field: field, Err: err}
	}
	return t, nil
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, v)
}
