package hazard

import "sitewatch.org/internal/site"

// severityByRisk is the single severity ranking used everywhere a risk type
// needs to become an alert level. Highest wins; levels are never averaged.
var severityByRisk = map[site.RiskType]site.AlertLevel{
	site.RiskFire:           site.AlertDanger,
	site.RiskCollapse:       site.AlertDanger,
	site.RiskElectrocution:  site.AlertDanger,
	site.RiskFall:           site.AlertWarning,
	site.RiskHeavyEquipment: site.AlertWarning,
}

// Severity maps a risk type onto an alert level. Unknown risk types read as
// SAFE so that novel tags never escalate on their own.
func Severity(r site.RiskType) site.AlertLevel {
	if lvl, ok := severityByRisk[r]; ok {
		return lvl
	}
	return site.AlertSafe
}

func maxLevel(a, b site.AlertLevel) site.AlertLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
