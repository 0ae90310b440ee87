package fetch

import (
	"context"
	"encoding/json"

	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/storage"
)

// Events fetches the events for one section and term.
func (s *Service) Events(ctx context.Context, sectionID, termID string, forceRefresh bool) ([]osm.Event, error) {
	sectionID, err := CanonicalID(sectionID)
	if err != nil {
		return nil, err
	}
	termID, err = CanonicalID(termID)
	if err != nil {
		return nil, err
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategoryEvents, sectionID)
	payload, err := s.readThrough(ctx, storage.CategoryEvents, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			events, err := s.client.GetEvents(ctx, sectionID, termID)
			if err != nil {
				return nil, err
			}
			s.persistEvents(events)
			return marshalPayload(events)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[osm.Event](payload)
}

func (s *Service) persistEvents(events []osm.Event) {
	for _, e := range events {
		eventID, err := CanonicalID(e.EventID)
		if err != nil {
			s.logger.Warn("Skipping event with invalid id", "error", err)
			continue
		}
		payload, _ := json.Marshal(e)
		err = s.db.UpsertEvent(&storage.Event{
			EventID:     eventID,
			SectionID:   e.SectionID.String(),
			TermID:      e.TermID.String(),
			Name:        e.Name,
			StartDate:   e.StartDate,
			PayloadJSON: payload,
		})
		if err != nil {
			s.logger.Warn("Failed to persist event", "event", eventID, "error", err)
		}
	}
}

// Attendance fetches attendance for one event.
func (s *Service) Attendance(ctx context.Context, sectionID, termID, eventID string, forceRefresh bool) ([]osm.AttendanceEntry, error) {
	sectionID, err := CanonicalID(sectionID)
	if err != nil {
		return nil, err
	}
	termID, err = CanonicalID(termID)
	if err != nil {
		return nil, err
	}
	eventID, err = CanonicalID(eventID)
	if err != nil {
		return nil, err
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategoryAttendance, eventID)
	payload, err := s.readThrough(ctx, storage.CategoryAttendance, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			entries, err := s.client.GetEventAttendance(ctx, sectionID, termID, eventID)
			if err != nil {
				return nil, err
			}
			s.persistAttendance(entries)
			return marshalPayload(entries)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[osm.AttendanceEntry](payload)
}

// SharedAttendance fetches the combined attendance for a shared event,
// cached under the owning section. Attendees who belong to other sections
// are indexed into this section as a side effect, so offline views of the
// event see everyone who was invited.
func (s *Service) SharedAttendance(ctx context.Context, eventID, ownerSectionID string, forceRefresh bool) ([]osm.AttendanceEntry, error) {
	eventID, err := CanonicalID(eventID)
	if err != nil {
		return nil, err
	}
	ownerSectionID, err = CanonicalID(ownerSectionID)
	if err != nil {
		return nil, err
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategorySharedAttendance, eventID, ownerSectionID)
	payload, err := s.readThrough(ctx, storage.CategorySharedAttendance, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			entries, err := s.client.GetSharedEventAttendance(ctx, eventID, ownerSectionID)
			if err != nil {
				return nil, err
			}
			s.indexSharedAttendees(entries, ownerSectionID)
			s.persistAttendance(entries)
			return marshalPayload(entries)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[osm.AttendanceEntry](payload)
}

// indexSharedAttendees upserts minimal member rows for attendees missing
// from the directory and links them to the owning section. The person type
// is inferred from the attendee's memberships in other sections, defaulting
// to Young People.
func (s *Service) indexSharedAttendees(entries []osm.AttendanceEntry, ownerSectionID string) {
	for _, entry := range entries {
		memberID, err := CanonicalID(entry.ScoutID)
		if err != nil {
			s.logger.Warn("Skipping attendee with invalid id", "error", err)
			continue
		}

		known, err := s.db.GetMember(memberID)
		if err != nil {
			s.logger.Warn("Failed to look up attendee", "member", memberID, "error", err)
			continue
		}
		if known == nil {
			err = s.db.UpsertMember(&storage.Member{
				MemberID:    memberID,
				FirstName:   entry.FirstName,
				LastName:    entry.LastName,
				DateOfBirth: entry.DOB,
			})
			if err != nil {
				s.logger.Warn("Failed to persist attendee", "member", memberID, "error", err)
				continue
			}
		}

		memberships, err := s.db.GetMemberSections(memberID)
		if err != nil {
			s.logger.Warn("Failed to read memberships", "member", memberID, "error", err)
			continue
		}
		personType := storage.InferPersonType(memberships)
		if err := s.db.UpsertMemberSection(memberID, ownerSectionID, personType); err != nil {
			s.logger.Warn("Failed to index attendee", "member", memberID, "error", err)
		}
	}
}

func (s *Service) persistAttendance(entries []osm.AttendanceEntry) {
	rows := make([]*storage.AttendanceRow, 0, len(entries))
	for _, entry := range entries {
		memberID, err := CanonicalID(entry.ScoutID)
		if err != nil {
			continue
		}
		payload, _ := json.Marshal(entry)
		rows = append(rows, &storage.AttendanceRow{
			EventID:     entry.EventID.String(),
			SectionID:   entry.SectionID.String(),
			MemberID:    memberID,
			Attending:   entry.Attending,
			PayloadJSON: payload,
		})
	}
	if err := s.db.UpsertAttendance(rows); err != nil {
		s.logger.Warn("Failed to persist attendance", "error", err)
	}
}
