package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vikings-osm-sync/internal/metrics"
)

// Person types as OSM reports them. Priority order matters for inference:
// Young Leaders > Leaders > Young People.
const (
	PersonTypeYoungPeople  = "Young People"
	PersonTypeLeaders      = "Leaders"
	PersonTypeYoungLeaders = "Young Leaders"
)

func personTypePriority(t string) int {
	switch t {
	case PersonTypeYoungLeaders:
		return 3
	case PersonTypeLeaders:
		return 2
	case PersonTypeYoungPeople:
		return 1
	default:
		return 0
	}
}

// InferPersonType picks the highest-priority person type among a member's
// existing section memberships, defaulting to Young People when the member
// is unknown everywhere else.
func InferPersonType(memberships []MemberSection) string {
	best := PersonTypeYoungPeople
	bestPriority := 0
	for _, ms := range memberships {
		if p := personTypePriority(ms.PersonType); p > bestPriority {
			best = ms.PersonType
			bestPriority = p
		}
	}
	return best
}

// Member is a core directory row, shared across sections.
type Member struct {
	MemberID    string
	FirstName   string
	LastName    string
	DateOfBirth string
	CampGroup   string
	ExtraJSON   json.RawMessage
	CreatedAt   int64
	UpdatedAt   int64
}

// MemberSection links a member to a section with a capacity.
type MemberSection struct {
	MemberID   string
	SectionID  string
	PersonType string
}

// UpsertMember inserts or refreshes a member row. Empty incoming fields do
// not clobber known values, so minimal rows created from shared-attendance
// upserts coexist with full directory rows.
func (db *DB) UpsertMember(m *Member) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertMember))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	var extra any
	if len(m.ExtraJSON) > 0 {
		extra = string(m.ExtraJSON)
	}

	_, err := db.conn.Exec(`
		INSERT INTO members (member_id, first_name, last_name, date_of_birth, camp_group, extra_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id) DO UPDATE SET
			first_name = CASE WHEN excluded.first_name != '' THEN excluded.first_name ELSE members.first_name END,
			last_name = CASE WHEN excluded.last_name != '' THEN excluded.last_name ELSE members.last_name END,
			date_of_birth = CASE WHEN excluded.date_of_birth != '' THEN excluded.date_of_birth ELSE members.date_of_birth END,
			camp_group = CASE WHEN excluded.camp_group != '' THEN excluded.camp_group ELSE members.camp_group END,
			extra_json = COALESCE(excluded.extra_json, members.extra_json),
			updated_at = excluded.updated_at
	`, m.MemberID, m.FirstName, m.LastName, m.DateOfBirth, m.CampGroup, extra, now, now)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertMember).Inc()
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID. Returns nil, nil when absent.
func (db *DB) GetMember(memberID string) (*Member, error) {
	var m Member
	var extra sql.NullString
	err := db.conn.QueryRow(`
		SELECT member_id, first_name, last_name, date_of_birth, camp_group, extra_json, created_at, updated_at
		FROM members WHERE member_id = ?
	`, memberID).Scan(&m.MemberID, &m.FirstName, &m.LastName, &m.DateOfBirth, &m.CampGroup, &extra, &m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if extra.Valid {
		m.ExtraJSON = json.RawMessage(extra.String)
	}
	return &m, nil
}

// UpsertMemberSection records that a member belongs to a section. When the
// row already exists a higher-priority person type wins; inference never
// downgrades a known Leader to Young People.
func (db *DB) UpsertMemberSection(memberID, sectionID, personType string) error {
	now := time.Now().Unix()

	existing, err := db.getMemberSection(memberID, sectionID)
	if err != nil {
		return err
	}
	if existing != nil && personTypePriority(existing.PersonType) >= personTypePriority(personType) {
		return nil
	}

	_, err = db.conn.Exec(`
		INSERT INTO member_section (member_id, section_id, person_type, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(member_id, section_id) DO UPDATE SET person_type = excluded.person_type,
		                                                 updated_at = excluded.updated_at
	`, memberID, sectionID, personType, now)

	if err != nil {
		return fmt.Errorf("failed to upsert member section: %w", err)
	}
	return nil
}

func (db *DB) getMemberSection(memberID, sectionID string) (*MemberSection, error) {
	var ms MemberSection
	err := db.conn.QueryRow(`
		SELECT member_id, section_id, person_type FROM member_section
		WHERE member_id = ? AND section_id = ?
	`, memberID, sectionID).Scan(&ms.MemberID, &ms.SectionID, &ms.PersonType)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member section: %w", err)
	}
	return &ms, nil
}

// GetMemberSections returns every section membership for a member.
func (db *DB) GetMemberSections(memberID string) ([]MemberSection, error) {
	rows, err := db.conn.Query(`
		SELECT member_id, section_id, person_type FROM member_section
		WHERE member_id = ?
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member sections: %w", err)
	}
	defer rows.Close()

	var memberships []MemberSection
	for rows.Next() {
		var ms MemberSection
		if err := rows.Scan(&ms.MemberID, &ms.SectionID, &ms.PersonType); err != nil {
			return nil, fmt.Errorf("failed to scan member section: %w", err)
		}
		memberships = append(memberships, ms)
	}
	return memberships, rows.Err()
}

// GetSectionMembers returns all members indexed under a section, joined
// with their person type in that section.
func (db *DB) GetSectionMembers(sectionID string) ([]*Member, map[string]string, error) {
	rows, err := db.conn.Query(`
		SELECT m.member_id, m.first_name, m.last_name, m.date_of_birth, m.camp_group,
		       m.extra_json, m.created_at, m.updated_at, ms.person_type
		FROM members m
		JOIN member_section ms ON ms.member_id = m.member_id
		WHERE ms.section_id = ?
		ORDER BY m.last_name, m.first_name
	`, sectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query section members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	personTypes := make(map[string]string)
	for rows.Next() {
		var m Member
		var extra sql.NullString
		var personType string
		if err := rows.Scan(&m.MemberID, &m.FirstName, &m.LastName, &m.DateOfBirth, &m.CampGroup,
			&extra, &m.CreatedAt, &m.UpdatedAt, &personType); err != nil {
			return nil, nil, fmt.Errorf("failed to scan section member: %w", err)
		}
		if extra.Valid {
			m.ExtraJSON = json.RawMessage(extra.String)
		}
		members = append(members, &m)
		personTypes[m.MemberID] = personType
	}
	return members, personTypes, rows.Err()
}

// GetMembersByCampGroup returns member IDs indexed under a camp group.
func (db *DB) GetMembersByCampGroup(campGroup string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT member_id FROM members WHERE camp_group = ? ORDER BY member_id
	`, campGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to query camp group members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan camp group member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
