package hazard

import "sitewatch.org/internal/site"

// Zone-type and equipment adjustments for the work-plan risk score. Flags
// missing from the table contribute zero; an unrecognized flag must never
// block plan creation.
var zoneAdjustment = map[site.ZoneType]int{
	site.ZoneRoof:    15,
	site.ZonePit:     20,
	site.ZoneOutdoor: 5,
}

var equipmentAdjustment = map[string]int{
	"CRANE":           15,
	"EXCAVATOR":       15,
	"LIFT":            10,
	"WELDING_MACHINE": 10,
}

// Score combines a template base score, the zone-type adjustment and
// equipment adjustments into a risk score clamped to [0, 100].
func Score(base int, zoneType site.ZoneType, equipmentFlags []string) int {
	score := base + zoneAdjustment[zoneType]
	for _, flag := range equipmentFlags {
		score += equipmentAdjustment[flag]
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
