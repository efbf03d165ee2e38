package site

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedSite(t *testing.T, s *InMemory) (Site, []Zone) {
	t.Helper()
	ctx := context.Background()
	created, err := s.CreateSite(ctx, Site{
		ProjectID: "proj-1",
		Name:      "yard",
		AnchorLat: 37.5,
		AnchorLng: 127.0,
		Rows:      2,
		Cols:      2,
		SpacingM:  10,
	})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}
	var zones []Zone
	for row := 0; row < created.Rows; row++ {
		for col := 0; col < created.Cols; col++ {
			zones = append(zones, Zone{Level: "1F", Row: row, Col: col, Type: ZoneOutdoor})
		}
	}
	zones, err = s.GenerateZones(ctx, created.ID, zones)
	if err != nil {
		t.Fatalf("generate zones: %v", err)
	}
	return created, zones
}

func TestCreateSiteDefaults(t *testing.T) {
	s := NewInMemory()
	created, err := s.CreateSite(context.Background(), Site{
		Name: "tower", Rows: 1, Cols: 1, SpacingM: 5,
	})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}
	if len(created.Levels) != 1 || created.Levels[0] != "1F" {
		t.Fatalf("default levels = %v", created.Levels)
	}
	if created.GroundLevel != "1F" {
		t.Fatalf("default ground level = %q", created.GroundLevel)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("identity not assigned: %+v", created)
	}
}

func TestCreateSiteValidatesGrid(t *testing.T) {
	s := NewInMemory()
	for _, in := range []Site{
		{Name: "a", Rows: 0, Cols: 2, SpacingM: 5},
		{Name: "b", Rows: 2, Cols: -1, SpacingM: 5},
		{Name: "c", Rows: 2, Cols: 2, SpacingM: 0},
	} {
		if _, err := s.CreateSite(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("CreateSite(%+v) err = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestGenerateZonesOnlyOnce(t *testing.T) {
	s := NewInMemory()
	created, _ := seedSite(t, s)

	_, err := s.GenerateZones(context.Background(), created.ID, []Zone{{Level: "1F"}})
	if !errors.Is(err, ErrZonesGenerated) {
		t.Fatalf("second generation err = %v, want ErrZonesGenerated", err)
	}
}

func TestZoneByCellLookup(t *testing.T) {
	s := NewInMemory()
	created, zones := seedSite(t, s)
	ctx := context.Background()

	z, err := s.ZoneByCell(ctx, created.ID, "1F", 1, 0)
	if err != nil {
		t.Fatalf("zone by cell: %v", err)
	}
	if z.Row != 1 || z.Col != 0 {
		t.Fatalf("wrong cell: %+v", z)
	}
	if _, err := s.ZoneByCell(ctx, created.ID, "1F", 5, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("out-of-grid lookup err = %v", err)
	}
	if _, err := s.ZoneByCell(ctx, created.ID, "2F", zones[0].Row, zones[0].Col); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown level lookup err = %v", err)
	}
}

func TestSetZoneStaticHazardsCopiesInput(t *testing.T) {
	s := NewInMemory()
	_, zones := seedSite(t, s)
	ctx := context.Background()

	in := []string{"open edge", "rebar"}
	if _, err := s.SetZoneStaticHazards(ctx, zones[0].ID, in); err != nil {
		t.Fatalf("set hazards: %v", err)
	}
	in[0] = "mutated"

	got, err := s.ZoneStaticHazards(ctx, zones[0].ID)
	if err != nil {
		t.Fatalf("read hazards: %v", err)
	}
	if got[0] != "open edge" {
		t.Fatalf("stored hazards alias caller slice: %v", got)
	}
}

func TestBeaconZoneRoundTrip(t *testing.T) {
	s := NewInMemory()
	created, zones := seedSite(t, s)
	ctx := context.Background()

	if err := s.PutBeacon(ctx, Beacon{ID: "b-1", SiteID: created.ID, ZoneID: zones[2].ID}); err != nil {
		t.Fatalf("put beacon: %v", err)
	}
	z, err := s.BeaconZone(ctx, "b-1")
	if err != nil {
		t.Fatalf("beacon zone: %v", err)
	}
	if z.ID != zones[2].ID {
		t.Fatalf("beacon resolves to %s, want %s", z.ID, zones[2].ID)
	}
	if err := s.PutBeacon(ctx, Beacon{ID: "b-2", SiteID: created.ID, ZoneID: "no-such-zone"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dangling beacon err = %v", err)
	}
	if err := s.PutBeacon(ctx, Beacon{ID: " ", ZoneID: zones[0].ID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank beacon id err = %v", err)
	}
}

func TestWorkPlanStatusTransitions(t *testing.T) {
	s := NewInMemory()
	_, zones := seedSite(t, s)
	ctx := context.Background()

	plan, err := s.CreateWorkPlan(ctx, WorkPlan{ZoneID: zones[0].ID, Date: time.Now()})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if plan.Status != PlanPlanned {
		t.Fatalf("initial status = %s", plan.Status)
	}

	if _, err := s.UpdateWorkPlanStatus(ctx, plan.ID, PlanInProgress); err != nil {
		t.Fatalf("to in progress: %v", err)
	}
	if _, err := s.UpdateWorkPlanStatus(ctx, plan.ID, PlanPlanned); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("backwards transition err = %v", err)
	}
	if _, err := s.UpdateWorkPlanStatus(ctx, plan.ID, PlanDone); err != nil {
		t.Fatalf("to done: %v", err)
	}
	if _, err := s.UpdateWorkPlanStatus(ctx, plan.ID, PlanInProgress); !errors.Is(err, ErrPlanDone) {
		t.Fatalf("reopening done plan err = %v", err)
	}
}

func TestWorkPlansFilterByZoneAndDay(t *testing.T) {
	s := NewInMemory()
	_, zones := seedSite(t, s)
	ctx := context.Background()
	today := time.Now().UTC()

	first, _ := s.CreateWorkPlan(ctx, WorkPlan{ZoneID: zones[0].ID, Date: today})
	second, _ := s.CreateWorkPlan(ctx, WorkPlan{ZoneID: zones[0].ID, Date: today})
	s.CreateWorkPlan(ctx, WorkPlan{ZoneID: zones[1].ID, Date: today})
	s.CreateWorkPlan(ctx, WorkPlan{ZoneID: zones[0].ID, Date: today.AddDate(0, 0, 1)})

	plans, err := s.WorkPlans(ctx, zones[0].ID, today)
	if err != nil {
		t.Fatalf("work plans: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("got %d plans, want 2", len(plans))
	}
	if plans[0].ID != first.ID && plans[0].ID != second.ID {
		t.Fatalf("unexpected plan set: %+v", plans)
	}
}

func TestReviewDangerReportIsFinal(t *testing.T) {
	s := NewInMemory()
	_, zones := seedSite(t, s)
	ctx := context.Background()

	report, err := s.CreateDangerReport(ctx, DangerZoneReport{
		ZoneID: zones[0].ID, Risk: RiskFire, Description: "gas smell", ReportedBy: "w-1",
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	if report.Status != ReportPending {
		t.Fatalf("initial status = %s", report.Status)
	}

	if _, err := s.ReviewDangerReport(ctx, report.ID, ReportPending, "m-1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("pending verdict err = %v", err)
	}
	reviewed, err := s.ReviewDangerReport(ctx, report.ID, ReportApproved, "m-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if reviewed.ReviewedBy != "m-1" {
		t.Fatalf("reviewer = %q", reviewed.ReviewedBy)
	}
	if _, err := s.ReviewDangerReport(ctx, report.ID, ReportRejected, "m-2"); !errors.Is(err, ErrReportReviewed) {
		t.Fatalf("second review err = %v", err)
	}

	approved, err := s.ApprovedDangerReports(ctx, zones[0].ID, report.Date)
	if err != nil {
		t.Fatalf("approved reports: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != report.ID {
		t.Fatalf("approved set: %+v", approved)
	}
}

func TestLastPositionReturnsNewest(t *testing.T) {
	s := NewInMemory()
	created, zones := seedSite(t, s)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := s.SavePositionReport(ctx, PositionReport{
			SiteID:    created.ID,
			WorkerID:  "w-1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Mode:      ModeGPS,
			ZoneID:    zones[i].ID,
		})
		if err != nil {
			t.Fatalf("save position %d: %v", i, err)
		}
	}

	last, err := s.LastPosition(ctx, "w-1")
	if err != nil {
		t.Fatalf("last position: %v", err)
	}
	if last.ZoneID != zones[2].ID {
		t.Fatalf("last zone = %s, want %s", last.ZoneID, zones[2].ID)
	}
	if _, err := s.LastPosition(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown worker err = %v", err)
	}
}
