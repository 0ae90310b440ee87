package flexi

import (
	"encoding/json"
	"reflect"
	"testing"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/storage"
)

func TestParseStructureMergesConfigAndRows(t *testing.T) {
	// config arrives as a JSON-encoded string; rows take precedence for
	// shared fields
	doc := json.RawMessage(`{
		"config": "[{\"id\":\"f_1\",\"name\":\"CampGroup\",\"width\":\"100\"},{\"id\":\"f_2\",\"name\":\"OldName\"}]",
		"structure": [
			{"rows": [
				{"field": "f_2", "name": "SignedInBy", "width": 150, "editable": true},
				{"field": "f_3", "name": "SignedInWhen", "editable": "true"},
				{"field": "total", "name": "Total"}
			]}
		]
	}`)

	mapping, err := ParseStructure(doc)
	if err != nil {
		t.Fatalf("ParseStructure failed: %v", err)
	}

	if len(mapping) != 3 {
		t.Fatalf("Expected 3 fields, got %d: %v", len(mapping), mapping)
	}
	if mapping["f_1"].Name != "CampGroup" || mapping["f_1"].Width != "100" {
		t.Errorf("Unexpected f_1: %+v", mapping["f_1"])
	}
	if mapping["f_2"].Name != "SignedInBy" || !mapping["f_2"].Editable {
		t.Errorf("Expected structure row to win for f_2, got %+v", mapping["f_2"])
	}
	if _, ok := mapping["total"]; ok {
		t.Error("Expected non-f_N field to be ignored")
	}
}

func TestParseStructureRejectsEmptyMapping(t *testing.T) {
	docs := []json.RawMessage{
		json.RawMessage(`{}`),
		json.RawMessage(`{"config":"[]","structure":[]}`),
		json.RawMessage(`{"structure":[{"rows":[{"field":"total","name":"Total"}]}]}`),
	}

	for _, doc := range docs {
		if _, err := ParseStructure(doc); !apperr.Is(err, apperr.KindInvalidData) {
			t.Errorf("Expected invalid data for %s, got %v", doc, err)
		}
	}
}

func TestTransformRowMirrorsValues(t *testing.T) {
	mapping := Mapping{
		"f_1": {Name: "CampGroup"},
		"f_2": {Name: "SignedInBy"},
	}
	row := map[string]any{"scoutid": "m1", "f_1": "Group 2"}

	got := TransformRow(row, mapping)

	if got["CampGroup"] != "Group 2" {
		t.Errorf("Expected named value, got %v", got["CampGroup"])
	}
	if got["_original_f_1"] != "Group 2" {
		t.Errorf("Expected preserved original, got %v", got["_original_f_1"])
	}
	if got["CampGroup"] != got["_original_f_1"] {
		t.Error("Named value and original must agree")
	}
	if _, ok := got["SignedInBy"]; ok {
		t.Error("Expected absent field to stay absent")
	}
	if row["CampGroup"] != nil {
		t.Error("Expected input row untouched")
	}
}

func TestTransformIsIdempotent(t *testing.T) {
	mapping := Mapping{"f_1": {Name: "CampGroup"}}
	rows := []map[string]any{{"scoutid": "m1", "f_1": "Group 2"}}

	once := TransformRows(rows, mapping)
	twice := TransformRows(once, mapping)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Expected idempotent transform:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestExtractContext(t *testing.T) {
	mapping := Mapping{
		"f_1": {Name: FieldCampGroup},
		"f_2": {Name: FieldSignedInBy},
	}

	t.Run("resolves required and optional fields", func(t *testing.T) {
		ctx := ExtractContext("flexi_9", mapping, "123", "t1", "Beavers",
			VikingEventRequiredFields, VikingEventOptionalFields)
		if ctx == nil {
			t.Fatal("Expected context")
		}
		if id, _ := ctx.FieldID(FieldCampGroup); id != "f_1" {
			t.Errorf("Expected f_1 for CampGroup, got %s", id)
		}
		if id, _ := ctx.FieldID(FieldSignedInBy); id != "f_2" {
			t.Errorf("Expected f_2 for SignedInBy, got %s", id)
		}
		if _, ok := ctx.FieldID(FieldSignedOutBy); ok {
			t.Error("Expected unresolved optional field to be absent")
		}
	})

	t.Run("nil when a required field is missing", func(t *testing.T) {
		ctx := ExtractContext("flexi_9", Mapping{"f_2": {Name: FieldSignedInBy}},
			"123", "t1", "Beavers", VikingEventRequiredFields, nil)
		if ctx != nil {
			t.Errorf("Expected nil context, got %+v", ctx)
		}
	})
}

func TestValidateCollection(t *testing.T) {
	records := []osm.FlexiRecordListEntry{
		{ExtraID: "f1", Name: RecordVikingEventMgmt},
		{ExtraID: "f2", Name: RecordVikingEventMgmt},
	}
	contexts := map[string]*Context{
		"f1": {RecordID: "f1"},
		"f2": nil,
	}

	result := ValidateCollection(records, contexts)
	if result.Summary.Total != 2 || result.Summary.Valid != 1 || result.Summary.Invalid != 1 {
		t.Errorf("Unexpected summary: %+v", result.Summary)
	}
	if len(result.Valid) != 1 || result.Valid[0] != "f1" {
		t.Errorf("Unexpected valid set: %v", result.Valid)
	}
}

func TestRecordTypePredicatesMatchExactly(t *testing.T) {
	if !IsVikingEventMgmt("Viking Event Mgmt") {
		t.Error("Expected exact name to match")
	}
	if IsVikingEventMgmt("viking event mgmt") || IsVikingEventMgmt("Viking Event Mgmt 2") {
		t.Error("Expected non-exact names to be rejected")
	}
	if !IsVikingSectionMovers("Viking Section Movers") {
		t.Error("Expected exact name to match")
	}
}

func TestOrganizeByCampGroup(t *testing.T) {
	rows := []map[string]any{
		{"scoutid": "m1", FieldCampGroup: "Group 1"},
		{"scoutid": "m2", FieldCampGroup: "Group 1"},
		{"scoutid": "m3"},
		{"scoutid": "l1", FieldCampGroup: "Group 1"},
		{"scoutid": "yl1"},
	}
	personTypes := map[string]string{
		"l1":  storage.PersonTypeLeaders,
		"yl1": storage.PersonTypeYoungLeaders,
	}

	got := OrganizeByCampGroup(rows, personTypes)

	if len(got.Leaders) != 1 || len(got.YoungLeaders) != 1 {
		t.Errorf("Unexpected leader partition: %d / %d", len(got.Leaders), len(got.YoungLeaders))
	}
	if len(got.Groups["Group 1"]) != 2 {
		t.Errorf("Expected 2 in Group 1, got %d", len(got.Groups["Group 1"]))
	}
	if len(got.Groups[UnassignedGroup]) != 1 {
		t.Errorf("Expected 1 unassigned, got %d", len(got.Groups[UnassignedGroup]))
	}
}
