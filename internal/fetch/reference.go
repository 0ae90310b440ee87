package fetch

import (
	"context"
	"encoding/json"
	"sort"

	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/storage"
)

// Sections fetches the sections the user can access.
func (s *Service) Sections(ctx context.Context, forceRefresh bool) ([]osm.Role, error) {
	key := storage.Key(s.gate.DemoMode(), storage.CategoryRoles)
	payload, err := s.readThrough(ctx, storage.CategoryRoles, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			roles, err := s.client.GetUserRoles(ctx)
			if err != nil {
				return nil, err
			}
			s.persistSections(roles)
			return marshalPayload(roles)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[osm.Role](payload)
}

func (s *Service) persistSections(roles []osm.Role) {
	for _, role := range roles {
		typeSource := role.Section
		if typeSource == "" {
			typeSource = role.SectionName
		}
		err := s.db.UpsertSection(&storage.Section{
			SectionID:   role.SectionID.String(),
			SectionName: role.SectionName,
			SectionType: storage.SectionTypeFromName(typeSource),
		})
		if err != nil {
			s.logger.Warn("Failed to persist section", "section", role.SectionID, "error", err)
		}
	}
}

// Terms fetches all terms, keyed by section id.
func (s *Service) Terms(ctx context.Context, forceRefresh bool) (map[string][]osm.Term, error) {
	key := storage.Key(s.gate.DemoMode(), storage.CategoryTerms)
	payload, err := s.readThrough(ctx, storage.CategoryTerms, key, forceRefresh, emptyObject,
		func(ctx context.Context) (json.RawMessage, error) {
			terms, err := s.client.GetTerms(ctx)
			if err != nil {
				return nil, err
			}
			return marshalPayload(terms)
		})
	if err != nil {
		return nil, err
	}
	terms := make(map[string][]osm.Term)
	if err := json.Unmarshal(stripCacheMeta(payload), &terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// MostRecentTerm picks the term with the latest end date. Term dates are
// ISO strings, so lexical order is chronological order.
func MostRecentTerm(terms []osm.Term) *osm.Term {
	if len(terms) == 0 {
		return nil
	}
	sorted := make([]osm.Term, len(terms))
	copy(sorted, terms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EndDate > sorted[j].EndDate
	})
	return &sorted[0]
}

// StartupData fetches the profile globals blob.
func (s *Service) StartupData(ctx context.Context, forceRefresh bool) (json.RawMessage, error) {
	key := storage.Key(s.gate.DemoMode(), storage.CategoryStartup)
	return s.readThrough(ctx, storage.CategoryStartup, key, forceRefresh, emptyObject,
		func(ctx context.Context) (json.RawMessage, error) {
			return s.client.GetStartupData(ctx)
		})
}

// Members fetches the member directory for the given sections and indexes
// each member against their section.
func (s *Service) Members(ctx context.Context, sectionIDs []string, forceRefresh bool) ([]osm.Member, error) {
	canonical := make([]string, 0, len(sectionIDs))
	for _, id := range sectionIDs {
		c, err := CanonicalID(id)
		if err != nil {
			return nil, err
		}
		canonical = append(canonical, c)
	}
	sort.Strings(canonical)

	key := storage.Key(s.gate.DemoMode(), storage.CategoryMembers, canonical...)
	payload, err := s.readThrough(ctx, storage.CategoryMembers, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			members, err := s.client.GetMembers(ctx, canonical)
			if err != nil {
				return nil, err
			}
			s.persistMembers(members)
			return marshalPayload(members)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[osm.Member](payload)
}

func (s *Service) persistMembers(members []osm.Member) {
	for _, m := range members {
		memberID, err := CanonicalID(m.MemberID)
		if err != nil {
			s.logger.Warn("Skipping member with invalid id", "error", err)
			continue
		}
		err = s.db.UpsertMember(&storage.Member{
			MemberID:    memberID,
			FirstName:   m.FirstName,
			LastName:    m.LastName,
			DateOfBirth: m.DateOfBirth,
		})
		if err != nil {
			s.logger.Warn("Failed to persist member", "member", memberID, "error", err)
			continue
		}
		if sectionID := m.SectionID.String(); sectionID != "" {
			if err := s.db.UpsertMemberSection(memberID, sectionID, directoryPersonType(m)); err != nil {
				s.logger.Warn("Failed to persist membership", "member", memberID, "error", err)
			}
		}
	}
}

// directoryPersonType derives the person type from the directory row. The
// upstream reports it explicitly for some sections and only through the
// patrol name for others.
func directoryPersonType(m osm.Member) string {
	for _, candidate := range []string{m.PersonType, m.Patrol} {
		switch candidate {
		case storage.PersonTypeYoungLeaders, storage.PersonTypeLeaders, storage.PersonTypeYoungPeople:
			return candidate
		}
	}
	return storage.PersonTypeYoungPeople
}

// stripCacheMeta removes nothing from array payloads; object payloads keep
// their injected timestamp, which json.Unmarshal into typed maps would
// otherwise reject for mismatched value types.
func stripCacheMeta(payload json.RawMessage) json.RawMessage {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return payload
	}
	delete(raw, "_cacheTimestamp")
	cleaned, err := json.Marshal(raw)
	if err != nil {
		return payload
	}
	return cleaned
}
