package flexi

import (
	"log/slog"

	"vikings-osm-sync/internal/osm"
)

// Record-type names the app recognises. Matching is exact.
const (
	RecordVikingEventMgmt     = "Viking Event Mgmt"
	RecordVikingSectionMovers = "Viking Section Movers"
)

// IsVikingEventMgmt reports whether a list entry is the event-management
// record for its section.
func IsVikingEventMgmt(name string) bool { return name == RecordVikingEventMgmt }

// IsVikingSectionMovers reports whether a list entry is the section-movers
// record for its section.
func IsVikingSectionMovers(name string) bool { return name == RecordVikingSectionMovers }

// Named fields of the Viking Event Mgmt record.
const (
	FieldCampGroup     = "CampGroup"
	FieldSignedInBy    = "SignedInBy"
	FieldSignedInWhen  = "SignedInWhen"
	FieldSignedOutBy   = "SignedOutBy"
	FieldSignedOutWhen = "SignedOutWhen"
)

// VikingEventRequiredFields must all resolve for an event-management
// context to be usable.
var VikingEventRequiredFields = []string{FieldCampGroup}

// VikingEventOptionalFields enrich the context when present.
var VikingEventOptionalFields = []string{
	FieldSignedInBy, FieldSignedInWhen, FieldSignedOutBy, FieldSignedOutWhen,
}

// Context is a resolved view of one named record instance: which raw field
// ids carry the named fields, plus the full mapping for row transforms.
type Context struct {
	RecordID    string
	SectionID   string
	TermID      string
	SectionName string
	FieldIDs    map[string]string // named field -> raw field id
	Mapping     Mapping
}

// FieldID returns the raw field id for a named field, if resolved.
func (c *Context) FieldID(name string) (string, bool) {
	id, ok := c.FieldIDs[name]
	return id, ok
}

// ExtractContext resolves the named fields of one record instance against
// its parsed mapping. Returns nil, with a warning logged, when a required
// field is missing from the schema.
func ExtractContext(recordID string, mapping Mapping, sectionID, termID, sectionName string, required, optional []string) *Context {
	fieldIDs := make(map[string]string, len(required)+len(optional))

	for _, name := range required {
		id, ok := mapping.FieldIDByName(name)
		if !ok {
			slog.Warn("Record schema is missing a required field",
				"record", recordID, "section", sectionName, "field", name)
			return nil
		}
		fieldIDs[name] = id
	}
	for _, name := range optional {
		if id, ok := mapping.FieldIDByName(name); ok {
			fieldIDs[name] = id
		}
	}

	return &Context{
		RecordID:    recordID,
		SectionID:   sectionID,
		TermID:      termID,
		SectionName: sectionName,
		FieldIDs:    fieldIDs,
		Mapping:     mapping,
	}
}

// ValidationResult partitions discovered records by whether a usable
// context was extracted for them.
type ValidationResult struct {
	Valid   []string
	Invalid []string
	Summary ValidationSummary
}

// ValidationSummary is the roll-up reported to callers.
type ValidationSummary struct {
	Total   int
	Valid   int
	Invalid int
}

// ValidateCollection checks every discovered record against its extracted
// context.
func ValidateCollection(records []osm.FlexiRecordListEntry, contexts map[string]*Context) ValidationResult {
	var result ValidationResult
	for _, record := range records {
		id := record.ExtraID.String()
		if ctx, ok := contexts[id]; ok && ctx != nil {
			result.Valid = append(result.Valid, id)
		} else {
			result.Invalid = append(result.Invalid, id)
		}
	}
	result.Summary = ValidationSummary{
		Total:   len(records),
		Valid:   len(result.Valid),
		Invalid: len(result.Invalid),
	}
	return result
}
