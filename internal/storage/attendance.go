package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceRow records one member's attendance for an event, scoped to the
// section the row came from (shared events carry rows for several sections).
type AttendanceRow struct {
	EventID     string
	SectionID   string
	MemberID    string
	Attending   string
	PayloadJSON json.RawMessage
	UpdatedAt   int64
}

// UpsertAttendance inserts or refreshes a batch of attendance rows in one
// transaction.
func (db *DB) UpsertAttendance(rows []*AttendanceRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`
		INSERT INTO attendance (event_id, section_id, member_id, attending, payload_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, section_id, member_id) DO UPDATE SET attending = excluded.attending,
		                                                           payload_json = excluded.payload_json,
		                                                           updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare attendance upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var payload any
		if len(r.PayloadJSON) > 0 {
			payload = string(r.PayloadJSON)
		}
		if _, err := stmt.Exec(r.EventID, r.SectionID, r.MemberID, r.Attending, payload, now); err != nil {
			return fmt.Errorf("failed to upsert attendance row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attendance upsert: %w", err)
	}
	return nil
}

// GetAttendance returns all stored rows for an event.
func (db *DB) GetAttendance(eventID string) ([]*AttendanceRow, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, section_id, member_id, attending, payload_json, updated_at
		FROM attendance WHERE event_id = ?
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	return scanAttendance(rows)
}

// GetMemberAttendance returns a member's rows across all events.
func (db *DB) GetMemberAttendance(memberID string) ([]*AttendanceRow, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, section_id, member_id, attending, payload_json, updated_at
		FROM attendance WHERE member_id = ?
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member attendance: %w", err)
	}
	defer rows.Close()

	return scanAttendance(rows)
}

func scanAttendance(rows *sql.Rows) ([]*AttendanceRow, error) {
	var result []*AttendanceRow
	for rows.Next() {
		var r AttendanceRow
		var payload sql.NullString
		if err := rows.Scan(&r.EventID, &r.SectionID, &r.MemberID, &r.Attending, &payload, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		if payload.Valid {
			r.PayloadJSON = json.RawMessage(payload.String)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
