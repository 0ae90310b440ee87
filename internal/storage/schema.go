package storage

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Hot tier: keyed JSON blobs stamped at write time. Keys follow the
-- viking_<category>_<ids>_offline scheme (demo_ prefixed in demo mode).
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    cache_timestamp INTEGER NOT NULL  -- Unix milliseconds
);

-- Sections the user can access (from get-user-roles)
CREATE TABLE IF NOT EXISTS sections (
    section_id TEXT PRIMARY KEY,
    section_name TEXT NOT NULL,
    section_type TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Member directory (core rows shared across sections)
CREATE TABLE IF NOT EXISTS members (
    member_id TEXT PRIMARY KEY,
    first_name TEXT,
    last_name TEXT,
    date_of_birth TEXT,
    camp_group TEXT,
    extra_json TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Which members belong to which sections, and in what capacity
CREATE TABLE IF NOT EXISTS member_section (
    member_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    person_type TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (member_id, section_id)
);

-- Events per section/term
CREATE TABLE IF NOT EXISTS events (
    event_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    term_id TEXT NOT NULL,
    name TEXT,
    start_date TEXT,
    payload_json TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (event_id, section_id)
);

-- Attendance rows reference an event
CREATE TABLE IF NOT EXISTS attendance (
    event_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    attending TEXT,
    payload_json TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (event_id, section_id, member_id)
);

-- FlexiRecord listings per section (archived/soft-deleted rows are kept but
-- filtered out on read)
CREATE TABLE IF NOT EXISTS flexi_lists (
    section_id TEXT NOT NULL,
    extra_id TEXT NOT NULL,
    name TEXT NOT NULL,
    archived INTEGER NOT NULL DEFAULT 0,
    soft_deleted INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (section_id, extra_id)
);

-- Parsed schema per FlexiRecord (field id -> descriptor mapping as JSON)
CREATE TABLE IF NOT EXISTS flexi_structures (
    extra_id TEXT PRIMARY KEY,
    name TEXT,
    structure_json TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- FlexiRecord data rows, values keyed by raw field id in fields_json
CREATE TABLE IF NOT EXISTS flexi_data (
    extra_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    term_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    fields_json TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (extra_id, section_id, term_id, member_id)
);

-- Denormalised Viking Event Mgmt state per member per event section
CREATE TABLE IF NOT EXISTS viking_event_data (
    section_id TEXT NOT NULL,
    term_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    camp_group TEXT,
    signed_in_by TEXT,
    signed_in_when TEXT,
    signed_out_by TEXT,
    signed_out_when TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (section_id, term_id, member_id)
);

-- Secondary indexes
CREATE INDEX IF NOT EXISTS idx_members_camp_group ON members(camp_group);
CREATE INDEX IF NOT EXISTS idx_member_section_member ON member_section(member_id);
CREATE INDEX IF NOT EXISTS idx_member_section_section ON member_section(section_id);
CREATE INDEX IF NOT EXISTS idx_events_section ON events(section_id);
CREATE INDEX IF NOT EXISTS idx_attendance_event ON attendance(event_id);
CREATE INDEX IF NOT EXISTS idx_attendance_member ON attendance(member_id);
CREATE INDEX IF NOT EXISTS idx_flexi_data_member ON flexi_data(member_id);
CREATE INDEX IF NOT EXISTS idx_flexi_data_section ON flexi_data(section_id);
CREATE INDEX IF NOT EXISTS idx_viking_event_camp_group ON viking_event_data(camp_group);
`
