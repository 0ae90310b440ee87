package osm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID canonicalises upstream identifiers, which arrive as numbers or strings
// depending on the endpoint, to strings at the wire boundary.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier is neither string nor number: %s", data)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Flag tolerates the upstream's assorted boolean encodings: true/false,
// 0/1, "0"/"1", "true"/"false", "yes"/"no".
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	s := strings.Trim(string(data), `"`)
	switch strings.ToLower(s) {
	case "", "null", "0", "false", "no":
		*f = false
	case "1", "true", "yes":
		*f = true
	default:
		// Numeric truthiness, e.g. archived: 2 for doubly-archived rows
		if n, err := strconv.Atoi(s); err == nil {
			*f = n != 0
			return nil
		}
		return fmt.Errorf("cannot interpret %q as flag", s)
	}
	return nil
}

// Role is one section the authenticated user can access.
type Role struct {
	SectionID   ID     `json:"sectionid"`
	SectionName string `json:"sectionname"`
	Section     string `json:"section"` // free-form type, e.g. "beavers"
	GroupName   string `json:"groupname"`
	IsDefault   Flag   `json:"isDefault"`
}

// Term is a calendar period for a section.
type Term struct {
	TermID    ID     `json:"termid"`
	SectionID ID     `json:"sectionid"`
	Name      string `json:"name"`
	StartDate string `json:"startdate"`
	EndDate   string `json:"enddate"`
}

// Member is one row of the member directory.
type Member struct {
	MemberID    ID     `json:"scoutid"`
	SectionID   ID     `json:"sectionid"`
	FirstName   string `json:"firstname"`
	LastName    string `json:"lastname"`
	DateOfBirth string `json:"dob"`
	Patrol      string `json:"patrol"`
	PersonType  string `json:"person_type"`
	Active      Flag   `json:"active"`
}

// Event is one scheduled activity.
type Event struct {
	EventID   ID     `json:"eventid"`
	SectionID ID     `json:"sectionid"`
	TermID    ID     `json:"termid"`
	Name      string `json:"name"`
	StartDate string `json:"startdate"`
	EndDate   string `json:"enddate"`
	Location  string `json:"location"`
	Notes     string `json:"notes"`
}

// AttendanceEntry is one member's attendance for one event.
type AttendanceEntry struct {
	ScoutID   ID     `json:"scoutid"`
	EventID   ID     `json:"eventid"`
	SectionID ID     `json:"sectionid"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Attending string `json:"attending"`
	Patrol    string `json:"patrol"`
	DOB       string `json:"dob"`
}

// EventSummary describes ownership and sharing for an event.
type EventSummary struct {
	EventID        ID     `json:"eventid"`
	OwnerSectionID ID     `json:"sectionid"`
	Name           string `json:"name"`
	Shared         Flag   `json:"shared"`
}

// SharingSection is one participant in a shared event.
type SharingSection struct {
	SectionID   ID     `json:"sectionid"`
	SectionName string `json:"sectionname"`
	Status      string `json:"status"`
}

// FlexiRecordListEntry is per-section FlexiRecord metadata.
type FlexiRecordListEntry struct {
	ExtraID     ID     `json:"extraid"`
	Name        string `json:"name"`
	Archived    Flag   `json:"archived"`
	SoftDeleted Flag   `json:"soft_deleted"`
}

// envelope is the upstream response wrapper. ok:false or status:"error"
// means failure even on HTTP 200.
type envelope struct {
	OK      *bool           `json:"ok"`
	Status  json.RawMessage `json:"status"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Items   json.RawMessage `json:"items"`
	Data    json.RawMessage `json:"data"`
}

// failureMessage pulls the most useful human-readable text out of a failed
// envelope.
func (e *envelope) failureMessage() string {
	if len(e.Error) > 0 {
		var s string
		if json.Unmarshal(e.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		return string(e.Error)
	}
	if e.Message != "" {
		return e.Message
	}
	return "upstream reported failure"
}

// failed reports whether the envelope indicates an application-level
// failure.
func (e *envelope) failed() bool {
	if e.OK != nil && !*e.OK {
		return true
	}
	var statusStr string
	if len(e.Status) > 0 && json.Unmarshal(e.Status, &statusStr) == nil {
		return strings.EqualFold(statusStr, "error")
	}
	return false
}
