package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sitewatch.org/internal/ids"
	"sitewatch.org/internal/site"
)

type Store struct {
	db *sql.DB
}

var _ site.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateSite(ctx context.Context, in site.Site) (site.Site, error) {
	if in.Rows <= 0 || in.Cols <= 0 || in.SpacingM <= 0 {
		return site.Site{}, site.ErrInvalidInput
	}
	in.ID = ids.New()
	in.CreatedAt = time.Now().UTC()
	if len(in.Levels) == 0 {
		in.Levels = []string{"1F"}
	}
	if in.GroundLevel == "" {
		in.GroundLevel = in.Levels[0]
	}
	levels, err := json.Marshal(in.Levels)
	if err != nil {
		return site.Site{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into sites(id, project_id, name, anchor_lat, anchor_lng, rotation_deg, rows, cols, spacing_m, levels, ground_level, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, in.ID, in.ProjectID, in.Name, in.AnchorLat, in.AnchorLng, in.RotationDeg, in.Rows, in.Cols, in.SpacingM, levels, in.GroundLevel, in.CreatedAt)
	if err != nil {
		return site.Site{}, err
	}
	return in, nil
}

func (s *Store) GetSite(ctx context.Context, id string) (site.Site, error) {
	var out site.Site
	var levels []byte
	err := s.db.QueryRowContext(ctx, `
		select id, project_id, name, anchor_lat, anchor_lng, rotation_deg, rows, cols, spacing_m, levels, ground_level, created_at
		from sites where id=$1
	`, id).Scan(&out.ID, &out.ProjectID, &out.Name, &out.AnchorLat, &out.AnchorLng, &out.RotationDeg, &out.Rows, &out.Cols, &out.SpacingM, &levels, &out.GroundLevel, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return site.Site{}, site.ErrNotFound
	}
	if err != nil {
		return site.Site{}, err
	}
	if err := json.Unmarshal(levels, &out.Levels); err != nil {
		return site.Site{}, err
	}
	return out, nil
}

func (s *Store) GenerateZones(ctx context.Context, siteID string, zones []site.Zone) ([]site.Zone, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from sites where id=$1 for update`, siteID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, site.ErrNotFound
		}
		return nil, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, `select count(*) from zones where site_id=$1`, siteID).Scan(&n); err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, site.ErrZonesGenerated
	}

	out := make([]site.Zone, 0, len(zones))
	for _, z := range zones {
		z.SiteID = siteID
		z.ID = ids.New()
		hazards, err := json.Marshal(hazardsJSON(z.StaticHazards))
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into zones(id, site_id, level, grid_row, grid_col, name, type, static_hazards)
			values ($1,$2,$3,$4,$5,$6,$7,$8)
		`, z.ID, z.SiteID, z.Level, z.Row, z.Col, z.Name, z.Type, hazards); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

const zoneColumns = `id, site_id, level, grid_row, grid_col, name, type, static_hazards`

func (s *Store) GetZone(ctx context.Context, zoneID string) (site.Zone, error) {
	return s.scanZone(s.db.QueryRowContext(ctx, `select `+zoneColumns+` from zones where id=$1`, zoneID))
}

func (s *Store) ZoneByCell(ctx context.Context, siteID, level string, row, col int) (site.Zone, error) {
	return s.scanZone(s.db.QueryRowContext(ctx, `
		select `+zoneColumns+` from zones
		where site_id=$1 and level=$2 and grid_row=$3 and grid_col=$4
	`, siteID, level, row, col))
}

func (s *Store) SetZoneStaticHazards(ctx context.Context, zoneID string, hazards []string) (site.Zone, error) {
	data, err := json.Marshal(hazardsJSON(hazards))
	if err != nil {
		return site.Zone{}, err
	}
	res, err := s.db.ExecContext(ctx, `update zones set static_hazards=$2 where id=$1`, zoneID, data)
	if err != nil {
		return site.Zone{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return site.Zone{}, site.ErrNotFound
	}
	return s.GetZone(ctx, zoneID)
}

func (s *Store) ZoneStaticHazards(ctx context.Context, zoneID string) ([]string, error) {
	z, err := s.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	return z.StaticHazards, nil
}

func (s *Store) PutBeacon(ctx context.Context, b site.Beacon) error {
	if b.ID == "" {
		return site.ErrInvalidInput
	}
	var dummy int
	if err := s.db.QueryRowContext(ctx, `select 1 from zones where id=$1`, b.ZoneID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return site.ErrNotFound
		}
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into beacons(id, site_id, zone_id)
		values ($1,$2,$3)
		on conflict (id) do update set site_id=excluded.site_id, zone_id=excluded.zone_id
	`, b.ID, b.SiteID, b.ZoneID)
	return err
}

func (s *Store) BeaconZone(ctx context.Context, beaconID string) (site.Zone, error) {
	return s.scanZone(s.db.QueryRowContext(ctx, `
		select z.id, z.site_id, z.level, z.grid_row, z.grid_col, z.name, z.type, z.static_hazards
		from beacons b join zones z on z.id = b.zone_id
		where b.id=$1
	`, beaconID))
}

func (s *Store) CreateWorkPlan(ctx context.Context, p site.WorkPlan) (site.WorkPlan, error) {
	var dummy int
	if err := s.db.QueryRowContext(ctx, `select 1 from zones where id=$1`, p.ZoneID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return site.WorkPlan{}, site.ErrNotFound
		}
		return site.WorkPlan{}, err
	}
	p.ID = ids.New()
	p.Date = site.Day(p.Date)
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = site.PlanPlanned
	}
	equipment, err := json.Marshal(hazardsJSON(p.EquipmentFlags))
	if err != nil {
		return site.WorkPlan{}, err
	}
	daily, err := json.Marshal(dailyJSON(p.DailyHazards))
	if err != nil {
		return site.WorkPlan{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into work_plans(id, project_id, zone_id, template_id, base_risk_score, equipment_flags, daily_hazards, plan_date, status, risk_score, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.ProjectID, p.ZoneID, p.TemplateID, p.BaseRiskScore, equipment, daily, p.Date, p.Status, p.RiskScore, p.CreatedAt)
	if err != nil {
		return site.WorkPlan{}, err
	}
	return p, nil
}

const planColumns = `id, project_id, zone_id, template_id, base_risk_score, equipment_flags, daily_hazards, plan_date, status, risk_score, created_at`

func (s *Store) GetWorkPlan(ctx context.Context, id string) (site.WorkPlan, error) {
	return scanPlan(s.db.QueryRowContext(ctx, `select `+planColumns+` from work_plans where id=$1`, id))
}

func (s *Store) UpdateWorkPlanStatus(ctx context.Context, id string, status site.PlanStatus) (site.WorkPlan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return site.WorkPlan{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current site.PlanStatus
	err = tx.QueryRowContext(ctx, `select status from work_plans where id=$1 for update`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return site.WorkPlan{}, site.ErrNotFound
	}
	if err != nil {
		return site.WorkPlan{}, err
	}
	if !validTransition(current, status) {
		if current == site.PlanDone {
			return site.WorkPlan{}, site.ErrPlanDone
		}
		return site.WorkPlan{}, site.ErrBadTransition
	}
	if _, err := tx.ExecContext(ctx, `update work_plans set status=$2 where id=$1`, id, status); err != nil {
		return site.WorkPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return site.WorkPlan{}, err
	}
	return s.GetWorkPlan(ctx, id)
}

func (s *Store) WorkPlans(ctx context.Context, zoneID string, day time.Time) ([]site.WorkPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+planColumns+` from work_plans
		where zone_id=$1 and plan_date=$2
		order by created_at asc, id asc
	`, zoneID, site.Day(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []site.WorkPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateDangerReport(ctx context.Context, r site.DangerZoneReport) (site.DangerZoneReport, error) {
	var dummy int
	if err := s.db.QueryRowContext(ctx, `select 1 from zones where id=$1`, r.ZoneID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return site.DangerZoneReport{}, site.ErrNotFound
		}
		return site.DangerZoneReport{}, err
	}
	r.ID = ids.New()
	r.Date = site.Day(r.Date)
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = site.ReportPending
	}
	_, err := s.db.ExecContext(ctx, `
		insert into danger_zone_reports(id, project_id, zone_id, report_date, risk, description, status, reported_by, reviewed_by, removed, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,nullif($9,''),$10,$11)
	`, r.ID, r.ProjectID, r.ZoneID, r.Date, r.Risk, r.Description, r.Status, r.ReportedBy, r.ReviewedBy, r.Removed, r.CreatedAt)
	if err != nil {
		return site.DangerZoneReport{}, err
	}
	return r, nil
}

const reportColumns = `id, project_id, zone_id, report_date, risk, description, status, reported_by, coalesce(reviewed_by,''), removed, created_at`

func (s *Store) GetDangerReport(ctx context.Context, id string) (site.DangerZoneReport, error) {
	return scanReport(s.db.QueryRowContext(ctx, `select `+reportColumns+` from danger_zone_reports where id=$1`, id))
}

func (s *Store) ReviewDangerReport(ctx context.Context, id string, status site.ReportStatus, reviewer string) (site.DangerZoneReport, error) {
	if status != site.ReportApproved && status != site.ReportRejected {
		return site.DangerZoneReport{}, site.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return site.DangerZoneReport{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var current site.ReportStatus
	err = tx.QueryRowContext(ctx, `select status from danger_zone_reports where id=$1 for update`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return site.DangerZoneReport{}, site.ErrNotFound
	}
	if err != nil {
		return site.DangerZoneReport{}, err
	}
	if current != site.ReportPending {
		return site.DangerZoneReport{}, site.ErrReportReviewed
	}
	if _, err := tx.ExecContext(ctx, `
		update danger_zone_reports set status=$2, reviewed_by=$3 where id=$1
	`, id, status, reviewer); err != nil {
		return site.DangerZoneReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return site.DangerZoneReport{}, err
	}
	return s.GetDangerReport(ctx, id)
}

func (s *Store) ApprovedDangerReports(ctx context.Context, zoneID string, day time.Time) ([]site.DangerZoneReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+reportColumns+` from danger_zone_reports
		where zone_id=$1 and report_date=$2 and status='APPROVED' and not removed
		order by created_at asc, id asc
	`, zoneID, site.Day(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []site.DangerZoneReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SavePositionReport(ctx context.Context, p site.PositionReport) (site.PositionReport, error) {
	p.ID = ids.New()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	beacons, err := json.Marshal(beaconsJSON(p.Beacons))
	if err != nil {
		return site.PositionReport{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into position_reports(id, site_id, project_id, worker_id, reported_at, mode, lat, lng, level, beacons, zone_id, alert_level)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,nullif($11,''),$12)
	`, p.ID, p.SiteID, p.ProjectID, p.WorkerID, p.Timestamp, p.Mode, p.Lat, p.Lng, p.Level, beacons, p.ZoneID, p.Alert)
	if err != nil {
		return site.PositionReport{}, err
	}
	return p, nil
}

func (s *Store) LastPosition(ctx context.Context, workerID string) (site.PositionReport, error) {
	var p site.PositionReport
	var beacons []byte
	err := s.db.QueryRowContext(ctx, `
		select id, site_id, project_id, worker_id, reported_at, mode, lat, lng, level, beacons, coalesce(zone_id,''), alert_level
		from position_reports
		where worker_id=$1
		order by reported_at desc, id desc
		limit 1
	`, workerID).Scan(&p.ID, &p.SiteID, &p.ProjectID, &p.WorkerID, &p.Timestamp, &p.Mode, &p.Lat, &p.Lng, &p.Level, &beacons, &p.ZoneID, &p.Alert)
	if errors.Is(err, sql.ErrNoRows) {
		return site.PositionReport{}, site.ErrNotFound
	}
	if err != nil {
		return site.PositionReport{}, err
	}
	if err := json.Unmarshal(beacons, &p.Beacons); err != nil {
		return site.PositionReport{}, err
	}
	if len(p.Beacons) == 0 {
		p.Beacons = nil
	}
	return p, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanZone(row rowScanner) (site.Zone, error) {
	var z site.Zone
	var hazards []byte
	err := row.Scan(&z.ID, &z.SiteID, &z.Level, &z.Row, &z.Col, &z.Name, &z.Type, &hazards)
	if errors.Is(err, sql.ErrNoRows) {
		return site.Zone{}, site.ErrNotFound
	}
	if err != nil {
		return site.Zone{}, err
	}
	if err := json.Unmarshal(hazards, &z.StaticHazards); err != nil {
		return site.Zone{}, err
	}
	if len(z.StaticHazards) == 0 {
		z.StaticHazards = nil
	}
	return z, nil
}

func scanPlan(row rowScanner) (site.WorkPlan, error) {
	var p site.WorkPlan
	var equipment, daily []byte
	err := row.Scan(&p.ID, &p.ProjectID, &p.ZoneID, &p.TemplateID, &p.BaseRiskScore, &equipment, &daily, &p.Date, &p.Status, &p.RiskScore, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return site.WorkPlan{}, site.ErrNotFound
	}
	if err != nil {
		return site.WorkPlan{}, err
	}
	if err := json.Unmarshal(equipment, &p.EquipmentFlags); err != nil {
		return site.WorkPlan{}, err
	}
	if err := json.Unmarshal(daily, &p.DailyHazards); err != nil {
		return site.WorkPlan{}, err
	}
	if len(p.EquipmentFlags) == 0 {
		p.EquipmentFlags = nil
	}
	if len(p.DailyHazards) == 0 {
		p.DailyHazards = nil
	}
	return p, nil
}

func scanReport(row rowScanner) (site.DangerZoneReport, error) {
	var r site.DangerZoneReport
	err := row.Scan(&r.ID, &r.ProjectID, &r.ZoneID, &r.Date, &r.Risk, &r.Description, &r.Status, &r.ReportedBy, &r.ReviewedBy, &r.Removed, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return site.DangerZoneReport{}, site.ErrNotFound
	}
	if err != nil {
		return site.DangerZoneReport{}, err
	}
	return r, nil
}

// JSON columns never store SQL null; empty slices marshal as [].
func hazardsJSON(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func dailyJSON(in []site.DailyHazard) []site.DailyHazard {
	if in == nil {
		return []site.DailyHazard{}
	}
	return in
}

func beaconsJSON(in []site.BeaconReading) []site.BeaconReading {
	if in == nil {
		return []site.BeaconReading{}
	}
	return in
}

func validTransition(from, to site.PlanStatus) bool {
	switch from {
	case site.PlanPlanned:
		return to == site.PlanInProgress || to == site.PlanDone
	case site.PlanInProgress:
		return to == site.PlanDone
	default:
		return false
	}
}
