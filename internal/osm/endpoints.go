package osm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"vikings-osm-sync/internal/metrics"
	"vikings-osm-sync/internal/queue"
)

// GetUserRoles lists the sections the authenticated user can access.
func (c *Client) GetUserRoles(ctx context.Context) ([]Role, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetUserRoles,
		method: http.MethodGet,
		path:   "/get-user-roles",
	})
	if err != nil {
		return nil, err
	}
	var roles []Role
	if err := decodePayload(raw, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetTerms enumerates terms for every accessible section, keyed by section
// id.
func (c *Client) GetTerms(ctx context.Context) (map[string][]Term, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetTerms,
		method: http.MethodGet,
		path:   "/get-terms",
	})
	if err != nil {
		return nil, err
	}
	terms := make(map[string][]Term)
	if err := decodePayload(raw, &terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// GetStartupData fetches the profile globals blob. The shape varies with
// account configuration, so it passes through untyped.
func (c *Client) GetStartupData(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, request{
		op:     metrics.OpGetStartupData,
		method: http.MethodGet,
		path:   "/get-startup-data",
	})
}

// GetMembers fetches the member directory for the given sections.
func (c *Client) GetMembers(ctx context.Context, sectionIDs []string) ([]Member, error) {
	q := url.Values{}
	for _, id := range sectionIDs {
		q.Add("sections", id)
	}
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetMembers,
		method: http.MethodGet,
		path:   "/get-members",
		query:  q,
	})
	if err != nil {
		return nil, err
	}
	var members []Member
	if err := decodePayload(raw, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// GetEvents fetches the events for one section and term. The section and
// term ids are stamped onto every entry, since the upstream rows omit them.
func (c *Client) GetEvents(ctx context.Context, sectionID, termID string) ([]Event, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetEvents,
		method: http.MethodGet,
		path:   "/get-events",
		query:  url.Values{"sectionid": {sectionID}, "termid": {termID}},
	})
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := decodePayload(raw, &events); err != nil {
		return nil, err
	}
	for i := range events {
		events[i].SectionID = ID(sectionID)
		events[i].TermID = ID(termID)
	}
	return events, nil
}

// GetEventAttendance fetches attendance for one event.
func (c *Client) GetEventAttendance(ctx context.Context, sectionID, termID, eventID string) ([]AttendanceEntry, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetEventAttendance,
		method: http.MethodGet,
		path:   "/get-event-attendance",
		query: url.Values{
			"sectionid": {sectionID},
			"termid":    {termID},
			"eventid":   {eventID},
		},
	})
	if err != nil {
		return nil, err
	}
	var entries []AttendanceEntry
	if err := decodePayload(raw, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].EventID == "" {
			entries[i].EventID = ID(eventID)
		}
		if entries[i].SectionID == "" {
			entries[i].SectionID = ID(sectionID)
		}
	}
	return entries, nil
}

// GetEventSummary fetches event metadata including the owning section.
func (c *Client) GetEventSummary(ctx context.Context, eventID string) (*EventSummary, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetEventSummary,
		method: http.MethodGet,
		path:   "/get-event-summary",
		query:  url.Values{"eventid": {eventID}},
	})
	if err != nil {
		return nil, err
	}
	var summary EventSummary
	if err := decodePayload(raw, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// GetEventSharingStatus lists the sections an event is shared with.
func (c *Client) GetEventSharingStatus(ctx context.Context, eventID, sectionID string) ([]SharingSection, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetEventSharingStatus,
		method: http.MethodGet,
		path:   "/get-event-sharing-status",
		query:  url.Values{"eventid": {eventID}, "sectionid": {sectionID}},
	})
	if err != nil {
		return nil, err
	}
	var sections []SharingSection
	if err := decodePayload(raw, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// GetSharedEventAttendance fetches the combined attendance across every
// section participating in a shared event. Each entry carries the section
// it belongs to.
func (c *Client) GetSharedEventAttendance(ctx context.Context, eventID, sectionID string) ([]AttendanceEntry, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetSharedAttendance,
		method: http.MethodGet,
		path:   "/get-shared-event-attendance",
		query:  url.Values{"eventid": {eventID}, "sectionid": {sectionID}},
	})
	if err != nil {
		return nil, err
	}
	var entries []AttendanceEntry
	if err := decodePayload(raw, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].EventID == "" {
			entries[i].EventID = ID(eventID)
		}
	}
	return entries, nil
}

// GetFlexiRecords lists the FlexiRecords defined for a section, including
// archived and soft-deleted entries. Filtering is the caller's job.
func (c *Client) GetFlexiRecords(ctx context.Context, sectionID string) ([]FlexiRecordListEntry, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetFlexiRecords,
		method: http.MethodGet,
		path:   "/get-flexi-records",
		query:  url.Values{"sectionid": {sectionID}},
	})
	if err != nil {
		return nil, err
	}
	var entries []FlexiRecordListEntry
	if err := decodePayload(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetFlexiStructure fetches the raw schema document for a FlexiRecord. The
// payload is parsed by the schema engine, not here.
func (c *Client) GetFlexiStructure(ctx context.Context, flexiRecordID, sectionID, termID string) (json.RawMessage, error) {
	return c.call(ctx, request{
		op:     metrics.OpGetFlexiStructure,
		method: http.MethodGet,
		path:   "/get-flexi-structure",
		query: url.Values{
			"flexirecordid": {flexiRecordID},
			"sectionid":     {sectionID},
			"termid":        {termID},
		},
	})
}

// GetSingleFlexiRecord fetches the data rows for a FlexiRecord. Rows are
// returned as raw field maps because the column set is schema-defined.
func (c *Client) GetSingleFlexiRecord(ctx context.Context, flexiRecordID, sectionID, termID string) ([]map[string]any, error) {
	raw, err := c.call(ctx, request{
		op:     metrics.OpGetSingleFlexiRecord,
		method: http.MethodGet,
		path:   "/get-single-flexi-record",
		query: url.Values{
			"flexirecordid": {flexiRecordID},
			"sectionid":     {sectionID},
			"termid":        {termID},
		},
	})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := decodePayload(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateFlexiRecord writes one field value for one member.
func (c *Client) UpdateFlexiRecord(ctx context.Context, sectionID, scoutID, flexiRecordID, columnID, value, termID string) error {
	_, err := c.call(ctx, request{
		op:     metrics.OpUpdateFlexiRecord,
		method: http.MethodPost,
		path:   "/update-flexi-record",
		write:  true,
		body: map[string]string{
			"sectionid":     sectionID,
			"scoutid":       scoutID,
			"flexirecordid": flexiRecordID,
			"columnid":      columnID,
			"value":         value,
			"termid":        termID,
		},
		opts: queue.Options{Priority: 1},
	})
	return err
}

// MultiUpdateFlexiRecord writes one field value for many members in a
// single upstream call.
func (c *Client) MultiUpdateFlexiRecord(ctx context.Context, sectionID string, scoutIDs []string, value, columnID, flexiRecordID string) error {
	_, err := c.call(ctx, request{
		op:     metrics.OpMultiUpdateFlexiRecord,
		method: http.MethodPost,
		path:   "/multi-update-flexi-record",
		write:  true,
		body: map[string]any{
			"sectionid":     sectionID,
			"scouts":        scoutIDs,
			"value":         value,
			"columnid":      columnID,
			"flexirecordid": flexiRecordID,
		},
		opts: queue.Options{Priority: 1},
	})
	return err
}
