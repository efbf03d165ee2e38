package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sitewatch.org/internal/site"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestGetSite(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{"id", "project_id", "name", "anchor_lat", "anchor_lng", "rotation_deg", "rows", "cols", "spacing_m", "levels", "ground_level", "created_at"}).
		AddRow("site-1", "proj-1", "hq tower", 37.5665, 126.978, 30.0, 5, 5, 20.0, []byte(`["1F","2F"]`), "1F", created)
	mock.ExpectQuery("select id, project_id, name, anchor_lat, anchor_lng, rotation_deg, rows, cols, spacing_m, levels, ground_level, created_at.*from sites").
		WithArgs("site-1").WillReturnRows(rows)

	got, err := s.GetSite(context.Background(), "site-1")
	if err != nil {
		t.Fatalf("GetSite: %v", err)
	}
	if got.Name != "hq tower" || got.Rows != 5 || len(got.Levels) != 2 {
		t.Fatalf("unexpected site: %+v", got)
	}

	mock.ExpectQuery("from sites").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := s.GetSite(context.Background(), "missing"); !errors.Is(err, site.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGenerateZonesRejectsSecondRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from sites").WithArgs("site-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("from zones where site_id").WithArgs("site-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
	mock.ExpectRollback()

	_, err := s.GenerateZones(context.Background(), "site-1", []site.Zone{{Level: "1F", Name: "Z-0-0", Type: site.ZoneOutdoor}})
	if !errors.Is(err, site.ErrZonesGenerated) {
		t.Fatalf("expected ErrZonesGenerated, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGenerateZonesInserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from sites").WithArgs("site-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("from zones where site_id").WithArgs("site-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("insert into zones").
		WithArgs(sqlmock.AnyArg(), "site-1", "1F", 0, 0, "Z-0-0", string(site.ZoneOutdoor), []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	out, err := s.GenerateZones(context.Background(), "site-1", []site.Zone{{Level: "1F", Name: "Z-0-0", Type: site.ZoneOutdoor}})
	if err != nil {
		t.Fatalf("GenerateZones: %v", err)
	}
	if len(out) != 1 || out[0].ID == "" || out[0].SiteID != "site-1" {
		t.Fatalf("unexpected zones: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateWorkPlanStatusDoneIsFinal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from work_plans").WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(site.PlanDone)))
	mock.ExpectRollback()

	_, err := s.UpdateWorkPlanStatus(context.Background(), "plan-1", site.PlanInProgress)
	if !errors.Is(err, site.ErrPlanDone) {
		t.Fatalf("expected ErrPlanDone, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateWorkPlanStatusTransition(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Now().UTC().Truncate(time.Second)
	day := site.Day(created)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from work_plans").WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(site.PlanPlanned)))
	mock.ExpectExec("update work_plans set status").WithArgs("plan-1", string(site.PlanInProgress)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("from work_plans where id").WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "zone_id", "template_id", "base_risk_score", "equipment_flags", "daily_hazards", "plan_date", "status", "risk_score", "created_at"}).
			AddRow("plan-1", "proj-1", "zone-1", "tmpl-1", 40, []byte(`["CRANE"]`), []byte(`[{"risk_type":"FALL","description":"edge work"}]`), day, string(site.PlanInProgress), 60, created))

	got, err := s.UpdateWorkPlanStatus(context.Background(), "plan-1", site.PlanInProgress)
	if err != nil {
		t.Fatalf("UpdateWorkPlanStatus: %v", err)
	}
	if got.Status != site.PlanInProgress || len(got.DailyHazards) != 1 || got.DailyHazards[0].Risk != site.RiskFall {
		t.Fatalf("unexpected plan: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReviewDangerReportAlreadyReviewed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from danger_zone_reports").WithArgs("rep-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(site.ReportApproved)))
	mock.ExpectRollback()

	_, err := s.ReviewDangerReport(context.Background(), "rep-1", site.ReportRejected, "mgr-1")
	if !errors.Is(err, site.ErrReportReviewed) {
		t.Fatalf("expected ErrReportReviewed, got %v", err)
	}

	if _, err := s.ReviewDangerReport(context.Background(), "rep-1", site.ReportPending, "mgr-1"); !errors.Is(err, site.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for PENDING review, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApprovedDangerReports(t *testing.T) {
	s, mock := newMockStore(t)
	day := site.Day(time.Now())
	created := time.Now().UTC().Truncate(time.Second)

	rows := sqlmock.NewRows([]string{"id", "project_id", "zone_id", "report_date", "risk", "description", "status", "reported_by", "reviewed_by", "removed", "created_at"}).
		AddRow("rep-1", "proj-1", "zone-1", day, string(site.RiskFire), "rebar fire", string(site.ReportApproved), "worker-2", "mgr-1", false, created)
	mock.ExpectQuery("from danger_zone_reports").WithArgs("zone-1", day).WillReturnRows(rows)

	got, err := s.ApprovedDangerReports(context.Background(), "zone-1", time.Now())
	if err != nil {
		t.Fatalf("ApprovedDangerReports: %v", err)
	}
	if len(got) != 1 || got[0].Risk != site.RiskFire || got[0].ReviewedBy != "mgr-1" {
		t.Fatalf("unexpected reports: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSavePositionReport(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into position_reports").
		WithArgs(sqlmock.AnyArg(), "site-1", "proj-1", "worker-1", sqlmock.AnyArg(), string(site.ModeGPS), 37.5665, 126.978, "", []byte(`[]`), "zone-1", string(site.AlertSafe)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	got, err := s.SavePositionReport(context.Background(), site.PositionReport{
		SiteID:    "site-1",
		ProjectID: "proj-1",
		WorkerID:  "worker-1",
		Mode:      site.ModeGPS,
		Lat:       37.5665,
		Lng:       126.978,
		ZoneID:    "zone-1",
		Alert:     site.AlertSafe,
	})
	if err != nil {
		t.Fatalf("SavePositionReport: %v", err)
	}
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp to be set: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLastPositionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("from position_reports").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	if _, err := s.LastPosition(context.Background(), "ghost"); !errors.Is(err, site.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
