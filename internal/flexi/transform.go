package flexi

// TransformRows rewrites raw rows into named rows: for every mapped field
// present in a row, the value is copied under the schema name and the
// original is preserved under _original_<fieldId>. Running the transform
// twice yields the same result.
func TransformRows(rows []map[string]any, mapping Mapping) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, TransformRow(row, mapping))
	}
	return out
}

// TransformRow transforms a single raw row. The input map is not modified.
func TransformRow(row map[string]any, mapping Mapping) map[string]any {
	transformed := make(map[string]any, len(row)+2*len(mapping))
	for k, v := range row {
		transformed[k] = v
	}
	for fieldID, info := range mapping {
		value, ok := row[fieldID]
		if !ok {
			continue
		}
		if info.Name != "" {
			transformed[info.Name] = value
		}
		transformed["_original_"+fieldID] = value
	}
	return transformed
}
