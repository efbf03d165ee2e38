package site

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// tests and the dev mode of the API binary; production runs store/pg.
type InMemory struct {
	mu        sync.RWMutex
	sites     map[string]*Site
	zones     map[string]*Zone
	cellIndex map[cellKey]string // (site, level, row, col) -> zone id
	beacons   map[string]*Beacon
	plans     map[string]*WorkPlan
	reports   map[string]*DangerZoneReport
	positions []PositionReport
}

type cellKey struct {
	siteID string
	level  string
	row    int
	col    int
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		sites:     make(map[string]*Site),
		zones:     make(map[string]*Zone),
		cellIndex: make(map[cellKey]string),
		beacons:   make(map[string]*Beacon),
		plans:     make(map[string]*WorkPlan),
		reports:   make(map[string]*DangerZoneReport),
	}
}

func (s *InMemory) CreateSite(ctx context.Context, in Site) (Site, error) {
	if in.Rows <= 0 || in.Cols <= 0 || in.SpacingM <= 0 {
		return Site{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	in.ID = newID()
	in.CreatedAt = time.Now().UTC()
	if len(in.Levels) == 0 {
		in.Levels = []string{"1F"}
	}
	if in.GroundLevel == "" {
		in.GroundLevel = in.Levels[0]
	}
	cp := in
	s.sites[in.ID] = &cp
	return in, nil
}

func (s *InMemory) GetSite(ctx context.Context, id string) (Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sites[id]
	if !ok {
		return Site{}, ErrNotFound
	}
	out := *st
	out.Levels = append([]string(nil), st.Levels...)
	return out, nil
}

func (s *InMemory) GenerateZones(ctx context.Context, siteID string, zones []Zone) ([]Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[siteID]; !ok {
		return nil, ErrNotFound
	}
	for _, z := range s.zones {
		if z.SiteID == siteID {
			return nil, ErrZonesGenerated
		}
	}

	out := make([]Zone, 0, len(zones))
	for _, z := range zones {
		z.SiteID = siteID
		z.ID = newID()
		cp := z
		s.zones[z.ID] = &cp
		s.cellIndex[cellKey{siteID, z.Level, z.Row, z.Col}] = z.ID
		out = append(out, z)
	}
	return out, nil
}

func (s *InMemory) GetZone(ctx context.Context, zoneID string) (Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoneCopy(zoneID)
}

func (s *InMemory) ZoneByCell(ctx context.Context, siteID, level string, row, col int) (Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cellIndex[cellKey{siteID, level, row, col}]
	if !ok {
		return Zone{}, ErrNotFound
	}
	return s.zoneCopy(id)
}

func (s *InMemory) SetZoneStaticHazards(ctx context.Context, zoneID string, hazards []string) (Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[zoneID]
	if !ok {
		return Zone{}, ErrNotFound
	}
	z.StaticHazards = append([]string(nil), hazards...)
	out := *z
	out.StaticHazards = append([]string(nil), z.StaticHazards...)
	return out, nil
}

func (s *InMemory) ZoneStaticHazards(ctx context.Context, zoneID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[zoneID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), z.StaticHazards...), nil
}

func (s *InMemory) PutBeacon(ctx context.Context, b Beacon) error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[b.ZoneID]; !ok {
		return ErrNotFound
	}
	cp := b
	s.beacons[b.ID] = &cp
	return nil
}

func (s *InMemory) BeaconZone(ctx context.Context, beaconID string) (Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beacons[beaconID]
	if !ok {
		return Zone{}, ErrNotFound
	}
	return s.zoneCopy(b.ZoneID)
}

func (s *InMemory) CreateWorkPlan(ctx context.Context, p WorkPlan) (WorkPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[p.ZoneID]; !ok {
		return WorkPlan{}, ErrNotFound
	}
	p.ID = newID()
	p.Date = Day(p.Date)
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = PlanPlanned
	}
	cp := p
	s.plans[p.ID] = &cp
	return p, nil
}

func (s *InMemory) GetWorkPlan(ctx context.Context, id string) (WorkPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return WorkPlan{}, ErrNotFound
	}
	return planCopy(p), nil
}

func (s *InMemory) UpdateWorkPlanStatus(ctx context.Context, id string, status PlanStatus) (WorkPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return WorkPlan{}, ErrNotFound
	}
	if !validTransition(p.Status, status) {
		if p.Status == PlanDone {
			return WorkPlan{}, ErrPlanDone
		}
		return WorkPlan{}, ErrBadTransition
	}
	p.Status = status
	return planCopy(p), nil
}

func (s *InMemory) WorkPlans(ctx context.Context, zoneID string, day time.Time) ([]WorkPlan, error) {
	day = Day(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []WorkPlan
	for _, p := range s.plans {
		if p.ZoneID == zoneID && p.Date.Equal(day) {
			out = append(out, planCopy(p))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemory) CreateDangerReport(ctx context.Context, r DangerZoneReport) (DangerZoneReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[r.ZoneID]; !ok {
		return DangerZoneReport{}, ErrNotFound
	}
	r.ID = newID()
	r.Date = Day(r.Date)
	r.CreatedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = ReportPending
	}
	cp := r
	s.reports[r.ID] = &cp
	return r, nil
}

func (s *InMemory) GetDangerReport(ctx context.Context, id string) (DangerZoneReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return DangerZoneReport{}, ErrNotFound
	}
	return *r, nil
}

func (s *InMemory) ReviewDangerReport(ctx context.Context, id string, status ReportStatus, reviewer string) (DangerZoneReport, error) {
	if status != ReportApproved && status != ReportRejected {
		return DangerZoneReport{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return DangerZoneReport{}, ErrNotFound
	}
	if r.Status != ReportPending {
		return DangerZoneReport{}, ErrReportReviewed
	}
	r.Status = status
	r.ReviewedBy = reviewer
	return *r, nil
}

func (s *InMemory) ApprovedDangerReports(ctx context.Context, zoneID string, day time.Time) ([]DangerZoneReport, error) {
	day = Day(day)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DangerZoneReport
	for _, r := range s.reports {
		if r.ZoneID == zoneID && r.Date.Equal(day) && r.Status == ReportApproved && !r.Removed {
			out = append(out, *r)
		}
	}
	sortReportsByCreated(out)
	return out, nil
}

func (s *InMemory) SavePositionReport(ctx context.Context, p PositionReport) (PositionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = newID()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	s.positions = append(s.positions, p)
	return p, nil
}

func (s *InMemory) LastPosition(ctx context.Context, workerID string) (PositionReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.positions) - 1; i >= 0; i-- {
		if s.positions[i].WorkerID == workerID {
			return s.positions[i], nil
		}
	}
	return PositionReport{}, ErrNotFound
}

// --- helpers ---

func (s *InMemory) zoneCopy(id string) (Zone, error) {
	z, ok := s.zones[id]
	if !ok {
		return Zone{}, ErrNotFound
	}
	out := *z
	out.StaticHazards = append([]string(nil), z.StaticHazards...)
	return out, nil
}

func planCopy(p *WorkPlan) WorkPlan {
	out := *p
	out.EquipmentFlags = append([]string(nil), p.EquipmentFlags...)
	out.DailyHazards = append([]DailyHazard(nil), p.DailyHazards...)
	return out
}

func validTransition(from, to PlanStatus) bool {
	switch from {
	case PlanPlanned:
		return to == PlanInProgress || to == PlanDone
	case PlanInProgress:
		return to == PlanDone
	default:
		return false
	}
}

func sortByCreated(plans []WorkPlan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
}

func sortReportsByCreated(reports []DangerZoneReport) {
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].ID < reports[j].ID
		}
		return reports[i].CreatedAt.Before(reports[j].CreatedAt)
	})
}
