package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sitewatch.org/internal/broker"
	"sitewatch.org/internal/geofence"
	"sitewatch.org/internal/hazard"
	"sitewatch.org/internal/site"
)

type fixture struct {
	store  *site.InMemory
	broker *broker.Broker
	svc    *Service
	site   site.Site
	origin site.Zone
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := site.NewInMemory()

	s, err := store.CreateSite(ctx, site.Site{
		ProjectID: "proj-1",
		Name:      "hq tower",
		AnchorLat: 37.5665,
		AnchorLng: 126.978,
		Rows:      5,
		Cols:      5,
		SpacingM:  20,
	})
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	var zones []site.Zone
	for row := 0; row < s.Rows; row++ {
		for col := 0; col < s.Cols; col++ {
			zones = append(zones, site.Zone{
				Level: s.GroundLevel,
				Row:   row,
				Col:   col,
				Name:  fmt.Sprintf("Z-%d-%d", row, col),
				Type:  site.ZoneOutdoor,
			})
		}
	}
	created, err := store.GenerateZones(ctx, s.ID, zones)
	if err != nil {
		t.Fatalf("GenerateZones: %v", err)
	}

	b := broker.New(16)
	svc := New(store, geofence.NewResolver(store, 0), hazard.NewAggregator(store, nil), b)
	return &fixture{store: store, broker: b, svc: svc, site: s, origin: created[0]}
}

func (f *fixture) approveDangerReport(t *testing.T, risk site.RiskType, desc string) {
	t.Helper()
	ctx := context.Background()
	r, err := f.store.CreateDangerReport(ctx, site.DangerZoneReport{
		ProjectID:   "proj-1",
		ZoneID:      f.origin.ID,
		Date:        time.Now(),
		Risk:        risk,
		Description: desc,
		ReportedBy:  "worker-2",
	})
	if err != nil {
		t.Fatalf("CreateDangerReport: %v", err)
	}
	if _, err := f.store.ReviewDangerReport(ctx, r.ID, site.ReportApproved, "mgr-1"); err != nil {
		t.Fatalf("ReviewDangerReport: %v", err)
	}
}

func (f *fixture) anchorReport(workerID string) site.PositionReport {
	return site.PositionReport{
		SiteID:    f.site.ID,
		ProjectID: "proj-1",
		WorkerID:  workerID,
		Mode:      site.ModeGPS,
		Lat:       f.site.AnchorLat,
		Lng:       f.site.AnchorLng,
	}
}

func countType(events []broker.Event, typ broker.EventType) int {
	n := 0
	for _, evt := range events {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func drain(sub *broker.Subscription, wait time.Duration) []broker.Event {
	var out []broker.Event
	for {
		select {
		case evt := <-sub.Events():
			out = append(out, evt)
		case <-time.After(wait):
			return out
		}
	}
}

func TestSafeSubmissionAcknowledgesWithoutEvents(t *testing.T) {
	f := newFixture(t)
	dash := f.broker.Subscribe(context.Background(), "proj-1", "")
	defer dash.Close()

	res, err := f.svc.Submit(context.Background(), f.anchorReport("worker-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Report.Alert != site.AlertSafe {
		t.Fatalf("expected SAFE, got %s", res.Report.Alert)
	}
	if res.Report.ZoneID != f.origin.ID {
		t.Fatalf("expected zone %s, got %s", f.origin.ID, res.Report.ZoneID)
	}
	if events := drain(dash, 50*time.Millisecond); len(events) != 0 {
		t.Fatalf("unexpected events for SAFE submission: %+v", events)
	}
}

func TestDangerTransitionEmitsOnePairThenSilence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Establish a SAFE baseline reading first.
	if _, err := f.svc.Submit(ctx, f.anchorReport("worker-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.approveDangerReport(t, site.RiskFire, "rebar fire at gate")

	worker := f.broker.Subscribe(ctx, "proj-1", "worker-1")
	defer worker.Close()
	dash := f.broker.Subscribe(ctx, "proj-1", "")
	defer dash.Close()

	res, err := f.svc.Submit(ctx, f.anchorReport("worker-1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Report.Alert != site.AlertDanger {
		t.Fatalf("expected DANGER, got %s", res.Report.Alert)
	}

	// The worker sees the targeted alert plus the project broadcast.
	workerEvents := drain(worker, 100*time.Millisecond)
	if n := countType(workerEvents, broker.EventPushAlert); n != 1 {
		t.Fatalf("worker got %d PUSH_ALERT events, want 1: %+v", n, workerEvents)
	}
	if len(workerEvents) != 2 {
		t.Fatalf("worker got %d events, want 2: %+v", len(workerEvents), workerEvents)
	}
	dashEvents := drain(dash, 100*time.Millisecond)
	if len(dashEvents) != 1 || dashEvents[0].Type != broker.EventHazardEntered {
		t.Fatalf("expected exactly one HAZARD_ENTERED broadcast, got %+v", dashEvents)
	}

	// A repeat reading at the same level must publish nothing.
	if _, err := f.svc.Submit(ctx, f.anchorReport("worker-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if events := drain(worker, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("repeat DANGER reading published to worker: %+v", events)
	}
	if events := drain(dash, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("repeat DANGER reading broadcast: %+v", events)
	}
}

func TestFirstReportAtDangerNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approveDangerReport(t, site.RiskElectrocution, "exposed feeder cable")

	dash := f.broker.Subscribe(ctx, "proj-1", "")
	defer dash.Close()

	if _, err := f.svc.Submit(ctx, f.anchorReport("worker-9")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := drain(dash, 100*time.Millisecond)
	if len(events) != 1 || events[0].Type != broker.EventHazardEntered {
		t.Fatalf("expected HAZARD_ENTERED for first DANGER reading, got %+v", events)
	}
}

func TestUnresolvedReportStoredAsUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dash := f.broker.Subscribe(ctx, "proj-1", "")
	defer dash.Close()

	report := f.anchorReport("worker-1")
	report.Lat = 37.58 // well outside the grid

	res, err := f.svc.Submit(ctx, report)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Report.Alert != site.AlertUnknown {
		t.Fatalf("expected UNKNOWN, got %s", res.Report.Alert)
	}
	if res.Report.Resolved() {
		t.Fatalf("expected unresolved report, got zone %s", res.Report.ZoneID)
	}

	stored, err := f.store.LastPosition(ctx, "worker-1")
	if err != nil {
		t.Fatalf("LastPosition: %v", err)
	}
	if stored.Alert != site.AlertUnknown {
		t.Fatalf("stored alert is %s, want UNKNOWN", stored.Alert)
	}
	if events := drain(dash, 50*time.Millisecond); len(events) != 0 {
		t.Fatalf("unresolved report published events: %+v", events)
	}
}

type brokenPlans struct {
	site.Store
}

func (b brokenPlans) WorkPlans(ctx context.Context, zoneID string, day time.Time) ([]site.WorkPlan, error) {
	return nil, errors.New("timeout")
}

func TestAggregationFailureDegradesToUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := New(f.store, geofence.NewResolver(f.store, 0), hazard.NewAggregator(brokenPlans{f.store}, nil), f.broker)
	res, err := svc.Submit(ctx, f.anchorReport("worker-1"))
	if !errors.Is(err, hazard.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if res.Report.Alert != site.AlertUnknown {
		t.Fatalf("expected UNKNOWN on degraded ingest, got %s", res.Report.Alert)
	}

	stored, err := f.store.LastPosition(ctx, "worker-1")
	if err != nil {
		t.Fatalf("LastPosition: %v", err)
	}
	if stored.Alert != site.AlertUnknown {
		t.Fatalf("stored alert is %s, want UNKNOWN", stored.Alert)
	}
}

func TestRejectsMissingWorker(t *testing.T) {
	f := newFixture(t)
	report := f.anchorReport("")
	if _, err := f.svc.Submit(context.Background(), report); !errors.Is(err, site.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report := f.anchorReport(fmt.Sprintf("worker-%d", i))
			if _, err := f.svc.Submit(ctx, report); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Submit: %v", err)
	}

	for i := 0; i < 50; i++ {
		stored, err := f.store.LastPosition(ctx, fmt.Sprintf("worker-%d", i))
		if err != nil {
			t.Fatalf("LastPosition(worker-%d): %v", i, err)
		}
		if stored.Alert != site.AlertSafe {
			t.Fatalf("worker-%d stored alert %s, want SAFE", i, stored.Alert)
		}
	}
}
