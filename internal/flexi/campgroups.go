package flexi

import "vikings-osm-sync/internal/storage"

// UnassignedGroup collects young people with no camp group value.
const UnassignedGroup = "Unassigned"

// CampGroups partitions transformed rows for event display. Leaders and
// young leaders are listed separately; young people are bucketed by their
// camp group value.
type CampGroups struct {
	Leaders      []map[string]any
	YoungLeaders []map[string]any
	Groups       map[string][]map[string]any
}

// OrganizeByCampGroup partitions transformed rows. personTypes maps member
// id to person type; members missing from it count as young people.
func OrganizeByCampGroup(rows []map[string]any, personTypes map[string]string) CampGroups {
	out := CampGroups{Groups: make(map[string][]map[string]any)}

	for _, row := range rows {
		memberID, _ := row["scoutid"].(string)

		switch personTypes[memberID] {
		case storage.PersonTypeLeaders:
			out.Leaders = append(out.Leaders, row)
		case storage.PersonTypeYoungLeaders:
			out.YoungLeaders = append(out.YoungLeaders, row)
		default:
			group, _ := row[FieldCampGroup].(string)
			if group == "" {
				group = UnassignedGroup
			}
			out.Groups[group] = append(out.Groups[group], row)
		}
	}
	return out
}
