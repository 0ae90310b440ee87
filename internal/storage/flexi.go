package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vikings-osm-sync/internal/metrics"
)

// FlexiListEntry is one FlexiRecord listing for a section.
type FlexiListEntry struct {
	SectionID   string
	ExtraID     string
	Name        string
	Archived    bool
	SoftDeleted bool
	UpdatedAt   int64
}

// UpsertFlexiList replaces the stored listing for a section.
func (db *DB) UpsertFlexiList(sectionID string, entries []*FlexiListEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, e := range entries {
		_, err := tx.Exec(`
			INSERT INTO flexi_lists (section_id, extra_id, name, archived, soft_deleted, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(section_id, extra_id) DO UPDATE SET name = excluded.name,
			                                                archived = excluded.archived,
			                                                soft_deleted = excluded.soft_deleted,
			                                                updated_at = excluded.updated_at
		`, sectionID, e.ExtraID, e.Name, e.Archived, e.SoftDeleted, now)
		if err != nil {
			return fmt.Errorf("failed to upsert flexi list entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flexi list: %w", err)
	}
	return nil
}

// GetFlexiList returns the active (non-archived, non-deleted) listings for
// a section.
func (db *DB) GetFlexiList(sectionID string) ([]*FlexiListEntry, error) {
	rows, err := db.conn.Query(`
		SELECT section_id, extra_id, name, archived, soft_deleted, updated_at
		FROM flexi_lists
		WHERE section_id = ? AND archived = 0 AND soft_deleted = 0
		ORDER BY name
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flexi list: %w", err)
	}
	defer rows.Close()

	var entries []*FlexiListEntry
	for rows.Next() {
		var e FlexiListEntry
		if err := rows.Scan(&e.SectionID, &e.ExtraID, &e.Name, &e.Archived, &e.SoftDeleted, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flexi list entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// UpsertFlexiStructure stores a parsed structure mapping as JSON.
func (db *DB) UpsertFlexiStructure(extraID, name string, structureJSON json.RawMessage) error {
	_, err := db.conn.Exec(`
		INSERT INTO flexi_structures (extra_id, name, structure_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(extra_id) DO UPDATE SET name = excluded.name,
		                                    structure_json = excluded.structure_json,
		                                    updated_at = excluded.updated_at
	`, extraID, name, string(structureJSON), time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to upsert flexi structure: %w", err)
	}
	return nil
}

// GetFlexiStructure returns a stored structure. Returns nil, nil when absent.
func (db *DB) GetFlexiStructure(extraID string) (json.RawMessage, error) {
	var structureJSON string
	err := db.conn.QueryRow(`
		SELECT structure_json FROM flexi_structures WHERE extra_id = ?
	`, extraID).Scan(&structureJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flexi structure: %w", err)
	}
	return json.RawMessage(structureJSON), nil
}

// FlexiDataRow is one member's values for a FlexiRecord, keyed by raw f_N
// field IDs inside Fields.
type FlexiDataRow struct {
	ExtraID   string
	SectionID string
	TermID    string
	MemberID  string
	Fields    map[string]string
	UpdatedAt int64
}

// UpsertFlexiData replaces the rows for one record instance.
func (db *DB) UpsertFlexiData(rows []*FlexiDataRow) error {
	if len(rows) == 0 {
		return nil
	}

	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertRow))
	defer timer.ObserveDuration()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, r := range rows {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal flexi fields: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO flexi_data (extra_id, section_id, term_id, member_id, fields_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(extra_id, section_id, term_id, member_id) DO UPDATE SET fields_json = excluded.fields_json,
			                                                                    updated_at = excluded.updated_at
		`, r.ExtraID, r.SectionID, r.TermID, r.MemberID, string(fields), now)
		if err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertRow).Inc()
			return fmt.Errorf("failed to upsert flexi data row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flexi data: %w", err)
	}
	return nil
}

// GetFlexiData returns the stored rows for one record instance.
func (db *DB) GetFlexiData(extraID, sectionID, termID string) ([]*FlexiDataRow, error) {
	rows, err := db.conn.Query(`
		SELECT extra_id, section_id, term_id, member_id, fields_json, updated_at
		FROM flexi_data
		WHERE extra_id = ? AND section_id = ? AND term_id = ?
	`, extraID, sectionID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flexi data: %w", err)
	}
	defer rows.Close()

	var result []*FlexiDataRow
	for rows.Next() {
		var r FlexiDataRow
		var fields string
		if err := rows.Scan(&r.ExtraID, &r.SectionID, &r.TermID, &r.MemberID, &fields, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flexi data row: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode flexi fields: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

// UpdateFlexiField patches a single field value on one stored row. Rows are
// created on demand so optimistic patches work before the first full fetch.
func (db *DB) UpdateFlexiField(extraID, sectionID, termID, memberID, fieldID, value string) error {
	rows, err := db.GetFlexiData(extraID, sectionID, termID)
	if err != nil {
		return err
	}

	var row *FlexiDataRow
	for _, r := range rows {
		if r.MemberID == memberID {
			row = r
			break
		}
	}
	if row == nil {
		row = &FlexiDataRow{
			ExtraID:   extraID,
			SectionID: sectionID,
			TermID:    termID,
			MemberID:  memberID,
			Fields:    make(map[string]string),
		}
	}
	if row.Fields == nil {
		row.Fields = make(map[string]string)
	}
	row.Fields[fieldID] = value

	return db.UpsertFlexiData([]*FlexiDataRow{row})
}

// VikingEventRow is the denormalised sign-in state used at events.
type VikingEventRow struct {
	SectionID     string
	TermID        string
	MemberID      string
	CampGroup     string
	SignedInBy    string
	SignedInWhen  string
	SignedOutBy   string
	SignedOutWhen string
	UpdatedAt     int64
}

// UpsertVikingEventData inserts or refreshes sign-in rows.
func (db *DB) UpsertVikingEventData(rows []*VikingEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, r := range rows {
		_, err := tx.Exec(`
			INSERT INTO viking_event_data (section_id, term_id, member_id, camp_group,
			                               signed_in_by, signed_in_when, signed_out_by, signed_out_when, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(section_id, term_id, member_id) DO UPDATE SET camp_group = excluded.camp_group,
			                                                          signed_in_by = excluded.signed_in_by,
			                                                          signed_in_when = excluded.signed_in_when,
			                                                          signed_out_by = excluded.signed_out_by,
			                                                          signed_out_when = excluded.signed_out_when,
			                                                          updated_at = excluded.updated_at
		`, r.SectionID, r.TermID, r.MemberID, r.CampGroup,
			r.SignedInBy, r.SignedInWhen, r.SignedOutBy, r.SignedOutWhen, now)
		if err != nil {
			return fmt.Errorf("failed to upsert viking event row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit viking event data: %w", err)
	}
	return nil
}

// GetVikingEventData returns the sign-in rows for a section/term.
func (db *DB) GetVikingEventData(sectionID, termID string) ([]*VikingEventRow, error) {
	rows, err := db.conn.Query(`
		SELECT section_id, term_id, member_id, camp_group,
		       signed_in_by, signed_in_when, signed_out_by, signed_out_when, updated_at
		FROM viking_event_data
		WHERE section_id = ? AND term_id = ?
	`, sectionID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to query viking event data: %w", err)
	}
	defer rows.Close()

	var result []*VikingEventRow
	for rows.Next() {
		var r VikingEventRow
		if err := rows.Scan(&r.SectionID, &r.TermID, &r.MemberID, &r.CampGroup,
			&r.SignedInBy, &r.SignedInWhen, &r.SignedOutBy, &r.SignedOutWhen, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan viking event row: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
