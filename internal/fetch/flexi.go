package fetch

import (
	"context"
	"encoding/json"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/flexi"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/storage"
)

// FlexiRecordList fetches the active FlexiRecords for a section. Archived
// and soft-deleted entries are dropped before caching so no consumer ever
// sees them.
func (s *Service) FlexiRecordList(ctx context.Context, sectionID string, forceRefresh bool) ([]osm.FlexiRecordListEntry, error) {
	sectionID, err := CanonicalID(sectionID)
	if err != nil {
		return nil, err
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategoryFlexiList, sectionID)
	payload, err := s.readThrough(ctx, storage.CategoryFlexiList, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			entries, err := s.client.GetFlexiRecords(ctx, sectionID)
			if err != nil {
				return nil, err
			}
			s.persistFlexiList(sectionID, entries)

			active := make([]osm.FlexiRecordListEntry, 0, len(entries))
			for _, e := range entries {
				if !e.Archived && !e.SoftDeleted {
					active = append(active, e)
				}
			}
			return marshalPayload(active)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[osm.FlexiRecordListEntry](payload)
}

func (s *Service) persistFlexiList(sectionID string, entries []osm.FlexiRecordListEntry) {
	rows := make([]*storage.FlexiListEntry, 0, len(entries))
	for _, e := range entries {
		extraID, err := CanonicalID(e.ExtraID)
		if err != nil {
			continue
		}
		rows = append(rows, &storage.FlexiListEntry{
			SectionID:   sectionID,
			ExtraID:     extraID,
			Name:        e.Name,
			Archived:    bool(e.Archived),
			SoftDeleted: bool(e.SoftDeleted),
		})
	}
	if err := s.db.UpsertFlexiList(sectionID, rows); err != nil {
		s.logger.Warn("Failed to persist flexi list", "section", sectionID, "error", err)
	}
}

// FlexiStructure fetches the raw schema document for one FlexiRecord. The
// schema engine parses it; this path only caches it.
func (s *Service) FlexiStructure(ctx context.Context, flexiRecordID, sectionID, termID string, forceRefresh bool) (json.RawMessage, error) {
	flexiRecordID, err := CanonicalID(flexiRecordID)
	if err != nil {
		return nil, err
	}
	sectionID, err = CanonicalID(sectionID)
	if err != nil {
		return nil, err
	}
	termID, err = CanonicalID(termID)
	if err != nil {
		return nil, err
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategoryFlexiStructure, flexiRecordID)
	return s.readThrough(ctx, storage.CategoryFlexiStructure, key, forceRefresh, emptyObject,
		func(ctx context.Context) (json.RawMessage, error) {
			raw, err := s.client.GetFlexiStructure(ctx, flexiRecordID, sectionID, termID)
			if err != nil {
				return nil, err
			}
			if err := s.db.UpsertFlexiStructure(flexiRecordID, "", raw); err != nil {
				s.logger.Warn("Failed to persist flexi structure", "record", flexiRecordID, "error", err)
			}
			return raw, nil
		})
}

// FlexiData fetches the data rows for one FlexiRecord instance. Rows are
// raw field maps; the schema engine turns them into named rows.
func (s *Service) FlexiData(ctx context.Context, flexiRecordID, sectionID, termID string, forceRefresh bool) ([]map[string]any, error) {
	flexiRecordID, err := CanonicalID(flexiRecordID)
	if err != nil {
		return nil, err
	}
	sectionID, err = CanonicalID(sectionID)
	if err != nil {
		return nil, err
	}
	termID, err = CanonicalID(termID)
	if err != nil {
		return nil, err
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategoryFlexiData, flexiRecordID, sectionID, termID)
	payload, err := s.readThrough(ctx, storage.CategoryFlexiData, key, forceRefresh, emptyList,
		func(ctx context.Context) (json.RawMessage, error) {
			rows, err := s.client.GetSingleFlexiRecord(ctx, flexiRecordID, sectionID, termID)
			if err != nil {
				return nil, err
			}
			s.persistFlexiData(flexiRecordID, sectionID, termID, rows)
			return marshalPayload(rows)
		})
	if err != nil {
		return nil, err
	}
	return decodeList[map[string]any](payload)
}

// VikingEventData fetches one event-management record instance, rewrites
// its rows through the schema mapping and persists the denormalised
// sign-in state, camp groups included, to the cold store.
func (s *Service) VikingEventData(ctx context.Context, fctx *flexi.Context, forceRefresh bool) ([]map[string]any, error) {
	if fctx == nil {
		return nil, apperr.New(apperr.KindInvalidData, "no record context")
	}

	rows, err := s.FlexiData(ctx, fctx.RecordID, fctx.SectionID, fctx.TermID, forceRefresh)
	if err != nil {
		return nil, err
	}

	transformed := flexi.TransformRows(rows, fctx.Mapping)
	s.persistVikingEventData(fctx, transformed)
	return transformed, nil
}

func (s *Service) persistVikingEventData(fctx *flexi.Context, rows []map[string]any) {
	field := func(row map[string]any, name string) string {
		if v, ok := row[name].(string); ok {
			return v
		}
		return ""
	}

	stored := make([]*storage.VikingEventRow, 0, len(rows))
	for _, row := range rows {
		memberID, err := CanonicalID(row["scoutid"])
		if err != nil {
			continue
		}
		stored = append(stored, &storage.VikingEventRow{
			SectionID:     fctx.SectionID,
			TermID:        fctx.TermID,
			MemberID:      memberID,
			CampGroup:     field(row, flexi.FieldCampGroup),
			SignedInBy:    field(row, flexi.FieldSignedInBy),
			SignedInWhen:  field(row, flexi.FieldSignedInWhen),
			SignedOutBy:   field(row, flexi.FieldSignedOutBy),
			SignedOutWhen: field(row, flexi.FieldSignedOutWhen),
		})
	}
	if err := s.db.UpsertVikingEventData(stored); err != nil {
		s.logger.Warn("Failed to persist viking event data", "record", fctx.RecordID, "error", err)
	}

	// Camp groups also live on the member row so the directory can be
	// partitioned without the record context
	for _, r := range stored {
		if r.CampGroup == "" {
			continue
		}
		if err := s.db.UpsertMember(&storage.Member{MemberID: r.MemberID, CampGroup: r.CampGroup}); err != nil {
			s.logger.Warn("Failed to persist camp group", "member", r.MemberID, "error", err)
		}
	}
}

func (s *Service) persistFlexiData(flexiRecordID, sectionID, termID string, rows []map[string]any) {
	stored := make([]*storage.FlexiDataRow, 0, len(rows))
	for _, row := range rows {
		memberID, err := CanonicalID(row["scoutid"])
		if err != nil {
			continue
		}
		fields := make(map[string]string)
		for k, v := range row {
			if sv, ok := v.(string); ok {
				fields[k] = sv
			}
		}
		stored = append(stored, &storage.FlexiDataRow{
			ExtraID:   flexiRecordID,
			SectionID: sectionID,
			TermID:    termID,
			MemberID:  memberID,
			Fields:    fields,
		})
	}
	if err := s.db.UpsertFlexiData(stored); err != nil {
		s.logger.Warn("Failed to persist flexi data", "record", flexiRecordID, "error", err)
	}
}
