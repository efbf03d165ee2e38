package site

import (
	"errors"
	"time"

	"sitewatch.org/internal/ids"
)

// ZoneType classifies the physical character of a grid cell.
type ZoneType string

const (
	ZoneIndoor  ZoneType = "INDOOR"
	ZoneOutdoor ZoneType = "OUTDOOR"
	ZoneRoof    ZoneType = "ROOF"
	ZonePit     ZoneType = "PIT"
	ZoneDanger  ZoneType = "DANGER"
)

// AlertLevel is the worker-facing classification derived from aggregated hazards.
// UNKNOWN means the position could not be resolved to a zone; it is distinct
// from SAFE.
type AlertLevel string

const (
	AlertUnknown AlertLevel = "UNKNOWN"
	AlertSafe    AlertLevel = "SAFE"
	AlertWarning AlertLevel = "WARNING"
	AlertDanger  AlertLevel = "DANGER"
)

// Rank orders alert levels by severity. UNKNOWN ranks below SAFE so that it
// never masks a real alert when comparing.
func (a AlertLevel) Rank() int {
	switch a {
	case AlertSafe:
		return 1
	case AlertWarning:
		return 2
	case AlertDanger:
		return 3
	default:
		return 0
	}
}

// RiskType tags a hazard entry for severity derivation.
type RiskType string

const (
	RiskFire           RiskType = "FIRE"
	RiskCollapse       RiskType = "COLLAPSE"
	RiskElectrocution  RiskType = "ELECTROCUTION"
	RiskFall           RiskType = "FALL"
	RiskHeavyEquipment RiskType = "HEAVY_EQUIPMENT"
)

// Site owns a rectangular grid of zones. The grid parameters are immutable
// once zones have been generated; regenerating requires explicit re-derivation.
type Site struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	AnchorLat   float64   `json:"anchor_lat"`
	AnchorLng   float64   `json:"anchor_lng"`
	RotationDeg float64   `json:"rotation_deg"`
	Rows        int       `json:"rows"`
	Cols        int       `json:"cols"`
	SpacingM    float64   `json:"spacing_m"`
	Levels      []string  `json:"levels"`
	GroundLevel string    `json:"ground_level"`
	CreatedAt   time.Time `json:"created_at"`
}

// Zone is an addressable grid cell, the unit of hazard aggregation. Identity
// (level, row, col) is stable; only the static hazard set may be edited.
type Zone struct {
	ID            string   `json:"id"`
	SiteID        string   `json:"site_id"`
	Level         string   `json:"level"`
	Row           int      `json:"row"`
	Col           int      `json:"col"`
	Name          string   `json:"name"`
	Type          ZoneType `json:"type"`
	StaticHazards []string `json:"static_hazards"`
}

// Beacon maps an installed BLE beacon to the zone it covers.
type Beacon struct {
	ID     string `json:"id"`
	SiteID string `json:"site_id"`
	ZoneID string `json:"zone_id"`
}

// PlanStatus tracks the work-plan lifecycle.
type PlanStatus string

const (
	PlanPlanned    PlanStatus = "PLANNED"
	PlanInProgress PlanStatus = "IN_PROGRESS"
	PlanDone       PlanStatus = "DONE"
)

// DailyHazard is a hazard specific to one day's planned work.
type DailyHazard struct {
	Risk        RiskType `json:"risk_type"`
	Description string   `json:"description"`
}

// WorkPlan is a single day's planned activity in one zone. The risk score is
// recalculated whenever zone, template, or equipment change; DONE plans are
// never rescored.
type WorkPlan struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	ZoneID         string        `json:"zone_id"`
	TemplateID     string        `json:"template_id"`
	BaseRiskScore  int           `json:"base_risk_score"`
	EquipmentFlags []string      `json:"equipment_flags"`
	DailyHazards   []DailyHazard `json:"daily_hazards"`
	Date           time.Time     `json:"date"`
	Status         PlanStatus    `json:"status"`
	RiskScore      int           `json:"risk_score"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ReportStatus is the danger-report review state.
type ReportStatus string

const (
	ReportPending  ReportStatus = "PENDING"
	ReportApproved ReportStatus = "APPROVED"
	ReportRejected ReportStatus = "REJECTED"
)

// DangerZoneReport is a time-bounded hazard raised against a zone for one
// date. Only APPROVED reports participate in worker-facing aggregation.
type DangerZoneReport struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	ZoneID      string       `json:"zone_id"`
	Date        time.Time    `json:"date"`
	Risk        RiskType     `json:"risk_type"`
	Description string       `json:"description"`
	Status      ReportStatus `json:"status"`
	ReportedBy  string       `json:"reported_by"`
	ReviewedBy  string       `json:"reviewed_by,omitempty"`
	Removed     bool         `json:"removed,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// PositionMode distinguishes the two report inputs.
type PositionMode string

const (
	ModeGPS PositionMode = "GPS"
	ModeBLE PositionMode = "BLE"
)

// BeaconReading is one detected beacon in a BLE position report. DistanceM
// is zero when the device did not estimate a distance.
type BeaconReading struct {
	BeaconID  string  `json:"beacon_id"`
	RSSI      float64 `json:"rssi"`
	DistanceM float64 `json:"distance_m,omitempty"`
}

// PositionReport is one worker location sample. Rows are append-only; the
// most recent row per worker supersedes earlier ones for current status.
type PositionReport struct {
	ID        string          `json:"id"`
	SiteID    string          `json:"site_id"`
	ProjectID string          `json:"project_id"`
	WorkerID  string          `json:"worker_id"`
	Timestamp time.Time       `json:"timestamp"`
	Mode      PositionMode    `json:"mode"`
	Lat       float64         `json:"lat,omitempty"`
	Lng       float64         `json:"lng,omitempty"`
	Level     string          `json:"level,omitempty"`
	Beacons   []BeaconReading `json:"beacons,omitempty"`
	ZoneID    string          `json:"zone_id,omitempty"`
	Alert     AlertLevel      `json:"alert_level"`
}

// Resolved reports whether the sample was matched to a zone.
func (p PositionReport) Resolved() bool { return p.ZoneID != "" }

var (
	ErrNotFound       = errors.New("not found")
	ErrZonesGenerated = errors.New("zones already generated for site")
	ErrPlanDone       = errors.New("work plan is done")
	ErrBadTransition  = errors.New("invalid status transition")
	ErrReportReviewed = errors.New("danger report already reviewed")
	ErrInvalidInput   = errors.New("invalid input")
)

// Day truncates a timestamp to its UTC calendar date. All per-date storage
// and aggregation keys use this normal form.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newID() string {
	return ids.New()
}
