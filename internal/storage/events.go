package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vikings-osm-sync/internal/metrics"
)

// Event is a scheduled activity owned by a section.
type Event struct {
	EventID     string
	SectionID   string
	TermID      string
	Name        string
	StartDate   string
	PayloadJSON json.RawMessage
	UpdatedAt   int64
}

// UpsertEvent inserts or refreshes an event row.
func (db *DB) UpsertEvent(e *Event) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertEvent))
	defer timer.ObserveDuration()

	e.UpdatedAt = time.Now().Unix()
	var payload any
	if len(e.PayloadJSON) > 0 {
		payload = string(e.PayloadJSON)
	}

	_, err := db.conn.Exec(`
		INSERT INTO events (event_id, section_id, term_id, name, start_date, payload_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, section_id) DO UPDATE SET term_id = excluded.term_id,
		                                                name = excluded.name,
		                                                start_date = excluded.start_date,
		                                                payload_json = excluded.payload_json,
		                                                updated_at = excluded.updated_at
	`, e.EventID, e.SectionID, e.TermID, e.Name, e.StartDate, payload, e.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertEvent).Inc()
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

// GetEvent retrieves one event. Returns nil, nil when absent.
func (db *DB) GetEvent(eventID, sectionID string) (*Event, error) {
	var e Event
	var payload sql.NullString
	err := db.conn.QueryRow(`
		SELECT event_id, section_id, term_id, name, start_date, payload_json, updated_at
		FROM events WHERE event_id = ? AND section_id = ?
	`, eventID, sectionID).Scan(&e.EventID, &e.SectionID, &e.TermID, &e.Name, &e.StartDate, &payload, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if payload.Valid {
		e.PayloadJSON = json.RawMessage(payload.String)
	}
	return &e, nil
}

// GetEventsBySection returns the events stored for a section.
func (db *DB) GetEventsBySection(sectionID string) ([]*Event, error) {
	rows, err := db.conn.Query(`
		SELECT event_id, section_id, term_id, name, start_date, payload_json, updated_at
		FROM events WHERE section_id = ? ORDER BY start_date DESC
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var payload sql.NullString
		if err := rows.Scan(&e.EventID, &e.SectionID, &e.TermID, &e.Name, &e.StartDate, &payload, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if payload.Valid {
			e.PayloadJSON = json.RawMessage(payload.String)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
