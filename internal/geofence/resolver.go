// Package geofence turns raw position reports (GPS fixes or BLE beacon
// sightings) into zone matches against a site's grid.
package geofence

import (
	"context"
	"errors"
	"fmt"

	"sitewatch.org/internal/grid"
	"sitewatch.org/internal/site"
)

// DefaultMaxBeaconDistanceM bounds how far an estimated beacon distance may
// be before the sighting is considered noise.
const DefaultMaxBeaconDistanceM = 15.0

// ZoneSource is the lookup surface the resolver depends on.
type ZoneSource interface {
	GetSite(ctx context.Context, siteID string) (site.Site, error)
	ZoneByCell(ctx context.Context, siteID, level string, row, col int) (site.Zone, error)
	BeaconZone(ctx context.Context, beaconID string) (site.Zone, error)
}

// Resolver maps position reports onto zones. It is stateless relative to
// persisted data and safe for concurrent use.
type Resolver struct {
	src            ZoneSource
	maxBeaconDistM float64
}

// NewResolver builds a resolver. maxBeaconDistM <= 0 selects the default.
func NewResolver(src ZoneSource, maxBeaconDistM float64) *Resolver {
	if maxBeaconDistM <= 0 {
		maxBeaconDistM = DefaultMaxBeaconDistanceM
	}
	return &Resolver{src: src, maxBeaconDistM: maxBeaconDistM}
}

// Resolve returns the matched zone for a report, or ok=false when the report
// cannot be placed. Unresolved is not an error: intermittent GPS/BLE loss is
// expected and the report is still stored for audits.
func (r *Resolver) Resolve(ctx context.Context, report site.PositionReport) (site.Zone, bool, error) {
	switch report.Mode {
	case site.ModeGPS:
		return r.resolveGPS(ctx, report)
	case site.ModeBLE:
		return r.resolveBLE(ctx, report)
	default:
		return site.Zone{}, false, fmt.Errorf("%w: unknown position mode %q", site.ErrInvalidInput, report.Mode)
	}
}

func (r *Resolver) resolveGPS(ctx context.Context, report site.PositionReport) (site.Zone, bool, error) {
	s, err := r.src.GetSite(ctx, report.SiteID)
	if err != nil {
		return site.Zone{}, false, fmt.Errorf("load site %s: %w", report.SiteID, err)
	}

	g := grid.Grid{
		AnchorLat:   s.AnchorLat,
		AnchorLng:   s.AnchorLng,
		RotationDeg: s.RotationDeg,
		Rows:        s.Rows,
		Cols:        s.Cols,
		SpacingM:    s.SpacingM,
	}
	row, col, ok, err := g.CoordinateToCell(report.Lat, report.Lng)
	if err != nil {
		return site.Zone{}, false, err
	}
	if !ok {
		return site.Zone{}, false, nil
	}

	level := report.Level
	if level == "" {
		level = s.GroundLevel
	}
	zone, err := r.src.ZoneByCell(ctx, s.ID, level, row, col)
	if errors.Is(err, site.ErrNotFound) {
		return site.Zone{}, false, nil
	}
	if err != nil {
		return site.Zone{}, false, fmt.Errorf("zone lookup (%s,%d,%d): %w", level, row, col, err)
	}
	return zone, true, nil
}

// resolveBLE is nearest-beacon-wins: the strongest sighting in the report
// selects the zone. Strength is the smallest estimated distance when the
// device supplied one, otherwise the least negative RSSI.
func (r *Resolver) resolveBLE(ctx context.Context, report site.PositionReport) (site.Zone, bool, error) {
	if len(report.Beacons) == 0 {
		return site.Zone{}, false, nil
	}

	best := report.Beacons[0]
	for _, reading := range report.Beacons[1:] {
		if closerThan(reading, best) {
			best = reading
		}
	}
	if best.DistanceM > r.maxBeaconDistM {
		return site.Zone{}, false, nil
	}

	zone, err := r.src.BeaconZone(ctx, best.BeaconID)
	if errors.Is(err, site.ErrNotFound) {
		// Unknown beacon: stale installation data, not a caller error.
		return site.Zone{}, false, nil
	}
	if err != nil {
		return site.Zone{}, false, fmt.Errorf("beacon lookup %s: %w", best.BeaconID, err)
	}
	return zone, true, nil
}

func closerThan(a, b site.BeaconReading) bool {
	if a.DistanceM > 0 && b.DistanceM > 0 {
		return a.DistanceM < b.DistanceM
	}
	if a.DistanceM > 0 || b.DistanceM > 0 {
		// A reading with a distance estimate beats RSSI-only readings.
		return a.DistanceM > 0
	}
	return a.RSSI > b.RSSI
}
