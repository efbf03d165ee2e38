package hazard

import (
	"testing"

	"sitewatch.org/internal/site"
)

func TestScoreCombinesAdjustments(t *testing.T) {
	cases := []struct {
		name      string
		base      int
		zone      site.ZoneType
		equipment []string
		want      int
	}{
		{"indoor no equipment", 30, site.ZoneIndoor, nil, 30},
		{"roof", 30, site.ZoneRoof, nil, 45},
		{"pit with crane", 30, site.ZonePit, []string{"CRANE"}, 65},
		{"outdoor welding and lift", 20, site.ZoneOutdoor, []string{"WELDING_MACHINE", "LIFT"}, 45},
		{"unrecognized flags ignored", 30, site.ZoneIndoor, []string{"JACKHAMMER", "???"}, 30},
		{"capped at 100", 80, site.ZonePit, []string{"CRANE", "EXCAVATOR"}, 100},
		{"floored at 0", -40, site.ZoneIndoor, nil, 0},
	}
	for _, tc := range cases {
		if got := Score(tc.base, tc.zone, tc.equipment); got != tc.want {
			t.Fatalf("%s: Score=%d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestScoreStaysInRange(t *testing.T) {
	zones := []site.ZoneType{site.ZoneIndoor, site.ZoneOutdoor, site.ZoneRoof, site.ZonePit, site.ZoneDanger, "WEIRD"}
	flags := [][]string{nil, {"CRANE"}, {"CRANE", "EXCAVATOR", "LIFT", "WELDING_MACHINE"}, {"UNKNOWN"}}
	for base := -50; base <= 150; base += 25 {
		for _, z := range zones {
			for _, f := range flags {
				got := Score(base, z, f)
				if got < 0 || got > 100 {
					t.Fatalf("Score(%d,%s,%v)=%d out of [0,100]", base, z, f, got)
				}
			}
		}
	}
}
