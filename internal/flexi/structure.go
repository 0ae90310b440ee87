// Package flexi parses FlexiRecord schemas and transforms their rows.
//
// A FlexiRecord's columns are opaque slots named f_1..f_N; the human names
// live in a separate structure document. This package turns that document
// into a field mapping, rewrites raw rows into named rows, and recognises
// the Viking-named record types the app is built around.
package flexi

import (
	"bytes"
	"encoding/json"
	"regexp"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/osm"
)

// FieldInfo is the schema metadata for one field slot.
type FieldInfo struct {
	Name      string
	Width     string
	Editable  bool
	Formatter string
}

// Mapping maps raw field ids (f_N) to their schema metadata.
type Mapping map[string]FieldInfo

var fieldIDRe = regexp.MustCompile(`^f_\d+$`)

// looseString tolerates numeric widths on the wire.
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	*l = looseString(bytes.Trim(data, `"`))
	return nil
}

type configEntry struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Width looseString `json:"width"`
}

type structureRow struct {
	Field     string      `json:"field"`
	Name      string      `json:"name"`
	Width     looseString `json:"width"`
	Editable  osm.Flag    `json:"editable"`
	Formatter string      `json:"formatter"`
}

// ParseStructure derives the field mapping from a structure document. The
// config array and the structure rows are merged, with the rows winning
// when both describe the same field. Fields outside the f_N namespace are
// ignored. A document that yields no fields is invalid and must not be
// used for transformation.
func ParseStructure(raw json.RawMessage) (Mapping, error) {
	var doc struct {
		Config    json.RawMessage `json:"config"`
		Structure []struct {
			Rows []structureRow `json:"rows"`
		} `json:"structure"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidData, "failed to decode structure document", err)
	}

	mapping := make(Mapping)

	for _, entry := range parseConfig(doc.Config) {
		if !fieldIDRe.MatchString(entry.ID) {
			continue
		}
		mapping[entry.ID] = FieldInfo{Name: entry.Name, Width: string(entry.Width)}
	}

	for _, section := range doc.Structure {
		for _, row := range section.Rows {
			if !fieldIDRe.MatchString(row.Field) {
				continue
			}
			mapping[row.Field] = FieldInfo{
				Name:      row.Name,
				Width:     string(row.Width),
				Editable:  bool(row.Editable),
				Formatter: row.Formatter,
			}
		}
	}

	if len(mapping) == 0 {
		return nil, apperr.New(apperr.KindInvalidData, "structure document has no usable fields")
	}
	return mapping, nil
}

// parseConfig decodes the config array, which arrives either as a JSON
// array or as a JSON-encoded string containing one.
func parseConfig(raw json.RawMessage) []configEntry {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil
		}
		trimmed = []byte(inner)
	}
	var entries []configEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil
	}
	return entries
}

// FieldIDByName finds the raw field id carrying the given schema name.
func (m Mapping) FieldIDByName(name string) (string, bool) {
	for id, info := range m {
		if info.Name == name {
			return id, true
		}
	}
	return "", false
}
