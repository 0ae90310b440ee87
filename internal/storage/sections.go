package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vikings-osm-sync/internal/metrics"
)

// SectionType is the closed enum sections are mapped onto. Upstream sends a
// free-form type string; we match on well-known names.
type SectionType string

const (
	SectionSquirrels SectionType = "squirrels"
	SectionBeavers   SectionType = "beavers"
	SectionCubs      SectionType = "cubs"
	SectionScouts    SectionType = "scouts"
	SectionExplorers SectionType = "explorers"
	SectionNetwork   SectionType = "network"
	SectionAdults    SectionType = "adults"
	SectionWaiting   SectionType = "waiting"
	SectionUnknown   SectionType = "unknown"
)

// SectionTypeFromName maps a free-form upstream section name/type onto the
// closed enum. Matching is case-insensitive substring matching; order
// matters only for names carrying several keywords, which do not occur in
// practice.
func SectionTypeFromName(name string) SectionType {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "squirrel"):
		return SectionSquirrels
	case strings.Contains(n, "beaver"):
		return SectionBeavers
	case strings.Contains(n, "cub"):
		return SectionCubs
	case strings.Contains(n, "explorer"):
		return SectionExplorers
	case strings.Contains(n, "scout"):
		return SectionScouts
	case strings.Contains(n, "network"):
		return SectionNetwork
	case strings.Contains(n, "adult"):
		return SectionAdults
	case strings.Contains(n, "waiting"):
		return SectionWaiting
	default:
		return SectionUnknown
	}
}

// Section is a grouping owned upstream, the primary access-control unit.
type Section struct {
	SectionID   string
	SectionName string
	SectionType SectionType
	UpdatedAt   int64
}

// UpsertSection inserts or refreshes a section row.
func (db *DB) UpsertSection(s *Section) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertSection))
	defer timer.ObserveDuration()

	s.UpdatedAt = time.Now().Unix()
	_, err := db.conn.Exec(`
		INSERT INTO sections (section_id, section_name, section_type, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(section_id) DO UPDATE SET section_name = excluded.section_name,
		                                      section_type = excluded.section_type,
		                                      updated_at = excluded.updated_at
	`, s.SectionID, s.SectionName, string(s.SectionType), s.UpdatedAt)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertSection).Inc()
		return fmt.Errorf("failed to upsert section: %w", err)
	}
	return nil
}

// GetSection retrieves a section by ID. Returns nil, nil when absent.
func (db *DB) GetSection(sectionID string) (*Section, error) {
	var s Section
	var sectionType string
	err := db.conn.QueryRow(`
		SELECT section_id, section_name, section_type, updated_at
		FROM sections WHERE section_id = ?
	`, sectionID).Scan(&s.SectionID, &s.SectionName, &sectionType, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	s.SectionType = SectionType(sectionType)
	return &s, nil
}

// ListSections returns all known sections.
func (db *DB) ListSections() ([]*Section, error) {
	rows, err := db.conn.Query(`
		SELECT section_id, section_name, section_type, updated_at
		FROM sections ORDER BY section_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []*Section
	for rows.Next() {
		var s Section
		var sectionType string
		if err := rows.Scan(&s.SectionID, &s.SectionName, &sectionType, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		s.SectionType = SectionType(sectionType)
		sections = append(sections, &s)
	}
	return sections, rows.Err()
}
