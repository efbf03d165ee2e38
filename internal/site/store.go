package site

import (
	"context"
	"time"
)

// Store is the persistence surface the safety core depends on. Every call is
// atomic on its own; the core never requires multi-call transactions.
type Store interface {
	CreateSite(ctx context.Context, s Site) (Site, error)
	GetSite(ctx context.Context, id string) (Site, error)

	// GenerateZones installs the derived zone set for a site. It fails with
	// ErrZonesGenerated when the site already has zones.
	GenerateZones(ctx context.Context, siteID string, zones []Zone) ([]Zone, error)
	GetZone(ctx context.Context, zoneID string) (Zone, error)
	ZoneByCell(ctx context.Context, siteID, level string, row, col int) (Zone, error)
	SetZoneStaticHazards(ctx context.Context, zoneID string, hazards []string) (Zone, error)
	ZoneStaticHazards(ctx context.Context, zoneID string) ([]string, error)

	PutBeacon(ctx context.Context, b Beacon) error
	BeaconZone(ctx context.Context, beaconID string) (Zone, error)

	CreateWorkPlan(ctx context.Context, p WorkPlan) (WorkPlan, error)
	GetWorkPlan(ctx context.Context, id string) (WorkPlan, error)
	UpdateWorkPlanStatus(ctx context.Context, id string, status PlanStatus) (WorkPlan, error)
	WorkPlans(ctx context.Context, zoneID string, day time.Time) ([]WorkPlan, error)

	CreateDangerReport(ctx context.Context, r DangerZoneReport) (DangerZoneReport, error)
	GetDangerReport(ctx context.Context, id string) (DangerZoneReport, error)
	ReviewDangerReport(ctx context.Context, id string, status ReportStatus, reviewer string) (DangerZoneReport, error)
	ApprovedDangerReports(ctx context.Context, zoneID string, day time.Time) ([]DangerZoneReport, error)

	SavePositionReport(ctx context.Context, p PositionReport) (PositionReport, error)
	LastPosition(ctx context.Context, workerID string) (PositionReport, error)
}
