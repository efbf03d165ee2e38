package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sitewatch.org/internal/broker"
	"sitewatch.org/internal/hazard"
	"sitewatch.org/internal/site"
)

type createWorkPlanRequest struct {
	ProjectID      string             `json:"project_id"`
	ZoneID         string             `json:"zone_id"`
	TemplateID     string             `json:"template_id"`
	BaseRiskScore  int                `json:"base_risk_score"`
	EquipmentFlags []string           `json:"equipment_flags"`
	DailyHazards   []site.DailyHazard `json:"daily_hazards"`
	Date           string             `json:"date"`
}

type updatePlanStatusRequest struct {
	Status string `json:"status"`
}

type createDangerReportRequest struct {
	ProjectID   string `json:"project_id"`
	ZoneID      string `json:"zone_id"`
	Date        string `json:"date"`
	Risk        string `json:"risk_type"`
	Description string `json:"description"`
	ReportedBy  string `json:"reported_by"`
}

type reviewDangerReportRequest struct {
	Status string `json:"status"`
}

func (a *API) handleWorkPlansCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireManager(w, r) {
		return
	}
	var req createWorkPlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ZoneID) == "" {
		writeError(w, r, http.StatusBadRequest, "zone_id is required")
		return
	}
	if req.BaseRiskScore < 0 || req.BaseRiskScore > 100 {
		writeError(w, r, http.StatusBadRequest, "base_risk_score must be between 0 and 100")
		return
	}
	day, err := parseDay(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	zone, err := a.store.GetZone(r.Context(), req.ZoneID)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}

	plan := site.WorkPlan{
		ProjectID:      a.callerProject(r, req.ProjectID),
		ZoneID:         req.ZoneID,
		TemplateID:     strings.TrimSpace(req.TemplateID),
		BaseRiskScore:  req.BaseRiskScore,
		EquipmentFlags: req.EquipmentFlags,
		DailyHazards:   req.DailyHazards,
		Date:           day,
		RiskScore:      hazard.Score(req.BaseRiskScore, zone.Type, req.EquipmentFlags),
	}
	created, err := a.store.CreateWorkPlan(r.Context(), plan)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	a.audit(r.Context(), "workplan.create", map[string]any{
		"plan_id":    created.ID,
		"zone_id":    created.ZoneID,
		"risk_score": created.RiskScore,
	})
	w.Header().Set("Location", "/v1/work-plans/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleWorkPlanResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/work-plans/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if planID, ok := strings.CutSuffix(path, "/status"); ok {
		if planID == "" || strings.Contains(planID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.updateWorkPlanStatus(w, r, planID)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	plan, err := a.store.GetWorkPlan(r.Context(), path)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// updateWorkPlanStatus advances the plan lifecycle. DONE is terminal and the
// risk score is never recalculated here.
func (a *API) updateWorkPlanStatus(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireManager(w, r) {
		return
	}
	var req updatePlanStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := site.PlanStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status != site.PlanPlanned && status != site.PlanInProgress && status != site.PlanDone {
		writeError(w, r, http.StatusBadRequest, "status must be PLANNED, IN_PROGRESS or DONE")
		return
	}
	plan, err := a.store.UpdateWorkPlanStatus(r.Context(), planID, status)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	a.audit(r.Context(), "workplan.status.update", map[string]any{
		"plan_id": planID,
		"status":  string(status),
	})
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleDangerReportsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createDangerReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ZoneID) == "" {
		writeError(w, r, http.StatusBadRequest, "zone_id is required")
		return
	}
	risk, ok := parseRiskType(req.Risk)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown risk_type")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, r, http.StatusBadRequest, "description is required")
		return
	}
	day, err := parseDay(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	report := site.DangerZoneReport{
		ProjectID:   a.callerProject(r, req.ProjectID),
		ZoneID:      req.ZoneID,
		Date:        day,
		Risk:        risk,
		Description: strings.TrimSpace(req.Description),
		ReportedBy:  a.callerUser(r, req.ReportedBy),
	}
	created, err := a.store.CreateDangerReport(r.Context(), report)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	a.audit(r.Context(), "dangerreport.create", map[string]any{
		"report_id": created.ID,
		"zone_id":   created.ZoneID,
		"risk_type": string(created.Risk),
	})
	w.Header().Set("Location", "/v1/danger-reports/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleDangerReportResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/danger-reports/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if reportID, ok := strings.CutSuffix(path, "/review"); ok {
		if reportID == "" || strings.Contains(reportID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.reviewDangerReport(w, r, reportID)
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	report, err := a.store.GetDangerReport(r.Context(), path)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	// Workers only see their own reports; existence of others is not leaked.
	if principal, ok := authPrincipal(r); ok && !principal.IsManager() && report.ReportedBy != principal.UserID {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// reviewDangerReport applies a manager decision. Approval changes the zone's
// aggregated picture for that date, so the cached report set is invalidated
// and a DANGER_ZONE_CHANGE broadcast goes out to the project.
func (a *API) reviewDangerReport(w http.ResponseWriter, r *http.Request, reportID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireManager(w, r) {
		return
	}
	var req reviewDangerReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := site.ReportStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status != site.ReportApproved && status != site.ReportRejected {
		writeError(w, r, http.StatusBadRequest, "status must be APPROVED or REJECTED")
		return
	}
	reviewer := a.callerUser(r, "")

	report, err := a.store.ReviewDangerReport(r.Context(), reportID, status, reviewer)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}

	if a.cache != nil {
		a.cache.Invalidate(r.Context(), report.ZoneID, report.Date)
	}
	if status == site.ReportApproved {
		a.broker.Publish(report.ProjectID, broker.NewEvent(report.ProjectID, broker.EventDangerZoneChange, map[string]any{
			"report_id": report.ID,
			"zone_id":   report.ZoneID,
			"risk_type": report.Risk,
			"date":      report.Date.Format("2006-01-02"),
			"status":    report.Status,
		}))
	}
	a.audit(r.Context(), "dangerreport.review", map[string]any{
		"report_id": report.ID,
		"zone_id":   report.ZoneID,
		"status":    string(report.Status),
		"reviewer":  reviewer,
	})
	writeJSON(w, http.StatusOK, report)
}

func (a *API) callerUser(r *http.Request, fallback string) string {
	if principal, ok := authPrincipal(r); ok {
		return principal.UserID
	}
	return strings.TrimSpace(fallback)
}

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return parsed, nil
}

func parseRiskType(raw string) (site.RiskType, bool) {
	switch site.RiskType(strings.ToUpper(strings.TrimSpace(raw))) {
	case site.RiskFire:
		return site.RiskFire, true
	case site.RiskCollapse:
		return site.RiskCollapse, true
	case site.RiskElectrocution:
		return site.RiskElectrocution, true
	case site.RiskFall:
		return site.RiskFall, true
	case site.RiskHeavyEquipment:
		return site.RiskHeavyEquipment, true
	}
	return "", false
}
