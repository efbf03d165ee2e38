package hazard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitewatch.org/internal/site"
)

// ErrSourceUnavailable wraps persistence failures during aggregation. Callers
// treat it as retryable and must never persist partial hazard data.
var ErrSourceUnavailable = errors.New("hazard source unavailable")

// Source is the read surface the aggregator depends on.
type Source interface {
	GetZone(ctx context.Context, zoneID string) (site.Zone, error)
	WorkPlans(ctx context.Context, zoneID string, day time.Time) ([]site.WorkPlan, error)
	ApprovedDangerReports(ctx context.Context, zoneID string, day time.Time) ([]site.DangerZoneReport, error)
}

// ReportCache is an optional read-through cache for approved danger reports.
// Review actions invalidate the (zone, date) entry.
type ReportCache interface {
	Approved(ctx context.Context, zoneID string, day time.Time) ([]site.DangerZoneReport, bool)
	SetApproved(ctx context.Context, zoneID string, day time.Time, reports []site.DangerZoneReport)
	Invalidate(ctx context.Context, zoneID string, day time.Time)
}

// Summary is the fused per-zone risk picture for one date.
type Summary struct {
	Hazards []string        `json:"hazards"`
	Level   site.AlertLevel `json:"alert_level"`
}

// Aggregator fuses static zone hazards, the day's work-plan hazards and
// approved danger reports into an ordered hazard list and an alert level.
// It is stateless; given identical inputs it produces identical output.
type Aggregator struct {
	src   Source
	cache ReportCache
}

// NewAggregator builds an aggregator. cache may be nil.
func NewAggregator(src Source, cache ReportCache) *Aggregator {
	return &Aggregator{src: src, cache: cache}
}

// Aggregate returns the hazard list and alert level for (zone, day).
// Ordering is fixed: static hazards first, then in-progress work-plan
// hazards, then approved danger reports, deduplicated by exact string match
// with first-seen order kept.
func (a *Aggregator) Aggregate(ctx context.Context, zoneID string, day time.Time) (Summary, error) {
	day = site.Day(day)

	zone, err := a.src.GetZone(ctx, zoneID)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			return Summary{}, err
		}
		return Summary{}, fmt.Errorf("%w: load zone %s: %v", ErrSourceUnavailable, zoneID, err)
	}

	plans, err := a.src.WorkPlans(ctx, zoneID, day)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: load work plans for zone %s: %v", ErrSourceUnavailable, zoneID, err)
	}

	reports, err := a.approvedReports(ctx, zoneID, day)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: load danger reports for zone %s: %v", ErrSourceUnavailable, zoneID, err)
	}

	seen := make(map[string]struct{})
	var hazards []string
	add := func(text string) {
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		hazards = append(hazards, text)
	}

	level := site.AlertSafe

	// Static hazards are standing risk, not an active incident: they list
	// informationally and alert at most WARNING, and only for DANGER-typed
	// zones.
	for _, h := range zone.StaticHazards {
		add(h)
	}
	if zone.Type == site.ZoneDanger && len(zone.StaticHazards) > 0 {
		level = maxLevel(level, site.AlertWarning)
	}

	for _, p := range plans {
		if p.Status != site.PlanInProgress {
			continue
		}
		for _, h := range p.DailyHazards {
			add(h.Description)
			level = maxLevel(level, Severity(h.Risk))
		}
	}

	// Same-type reports all list individually; descriptions may differ
	// materially.
	for _, r := range reports {
		add(r.Description)
		level = maxLevel(level, Severity(r.Risk))
	}

	return Summary{Hazards: hazards, Level: level}, nil
}

func (a *Aggregator) approvedReports(ctx context.Context, zoneID string, day time.Time) ([]site.DangerZoneReport, error) {
	if a.cache != nil {
		if cached, ok := a.cache.Approved(ctx, zoneID, day); ok {
			return cached, nil
		}
	}
	reports, err := a.src.ApprovedDangerReports(ctx, zoneID, day)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.SetApproved(ctx, zoneID, day, reports)
	}
	return reports, nil
}
