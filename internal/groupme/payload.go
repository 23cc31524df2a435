package groupme

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventsPayload is the body of GET /conversations/{id}/events/list.
// Events stay undecoded so that one malformed entry cannot fail the list.
type EventsPayload struct {
	Response struct {
		Events []json.RawMessage `json:"events"`
	} `json:"response"`
}

// Events returns the undecoded event list, or nil for a nil payload.
func (p *EventsPayload) Events() []json.RawMessage {
	if p == nil {
		return nil
	}
	return p.Response.Events
}

// DecodeEvent unmarshals one entry of the event list.
func DecodeEvent(b json.RawMessage) (RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return RawEvent{}, err
	}
	return ev, nil
}

// LooseID returns the event_id of an entry as raw JSON text, whatever its
// type, or "" when absent. Used to name entries that fail to decode.
func LooseID(b json.RawMessage) string {
	var head struct {
		EventID json.RawMessage `json:"event_id"`
	}
	if err := json.Unmarshal(b, &head); err != nil || len(head.EventID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(head.EventID, &s); err == nil {
		return s
	}
	return string(head.EventID)
}

// GroupInfo is the body of GET /groups/{id}. Only the name is used.
type GroupInfo struct {
	Response struct {
		Name string `json:"name"`
	} `json:"response"`
}

// RawEvent is one upstream event record. Pointer fields are nil when the
// key is absent or null; required-field checks happen in the mapper.
type RawEvent struct {
	EventID     *string   `json:"event_id"`
	Name        *string   `json:"name"`
	StartAt     *string   `json:"start_at"`
	EndAt       *string   `json:"end_at"`
	Description *string   `json:"description"`
	Location    *Location `json:"location"`
	UpdatedAt   *string   `json:"updated_at"`

	// DeletedAt is non-empty whenever the key is present, null included.
	DeletedAt json.RawMessage `json:"deleted_at"`
}

// IsDeleted reports whether the event carries a soft-delete marker.
func (e RawEvent) IsDeleted() bool {
	return len(e.DeletedAt) > 0
}

// ID returns the event id or "" when absent. Used for logging.
func (e RawEvent) ID() string {
	if e.EventID == nil {
		return ""
	}
	return *e.EventID
}

// Location is the optional place attached to an event.
type Location struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Lat     Coord  `json:"lat"`
	Lng     Coord  `json:"lng"`
}

// IsEmpty reports whether no location field carries a value.
func (l *Location) IsEmpty() bool {
	return l == nil || (l.Name == "" && l.Address == "" && l.Lat == "" && l.Lng == "")
}

// Coord is a latitude or longitude as the upstream wrote it. GroupMe sends
// strings, but bare numbers are accepted too; the literal text is kept so
// that 1.0 stays "1.0".
type Coord string

func (c *Coord) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Coord(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Coord(n.String())
	return nil
}
