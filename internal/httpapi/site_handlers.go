package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"sitewatch.org/internal/auth"
	"sitewatch.org/internal/site"
)

type createSiteRequest struct {
	ProjectID   string   `json:"project_id"`
	Name        string   `json:"name"`
	AnchorLat   float64  `json:"anchor_lat"`
	AnchorLng   float64  `json:"anchor_lng"`
	RotationDeg float64  `json:"rotation_deg"`
	Rows        int      `json:"rows"`
	Cols        int      `json:"cols"`
	SpacingM    float64  `json:"spacing_m"`
	Levels      []string `json:"levels"`
	GroundLevel string   `json:"ground_level"`
}

type zoneOverride struct {
	Level         string   `json:"level"`
	Row           int      `json:"row"`
	Col           int      `json:"col"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	StaticHazards []string `json:"static_hazards"`
}

type generateZonesRequest struct {
	DefaultType string         `json:"default_type"`
	Overrides   []zoneOverride `json:"overrides"`
}

type putHazardsRequest struct {
	Hazards []string `json:"hazards"`
}

func (a *API) handleSitesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireManager(w, r) {
		return
	}
	var req createSiteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	projectID := a.callerProject(r, req.ProjectID)
	if projectID == "" {
		writeError(w, r, http.StatusBadRequest, "project_id is required")
		return
	}
	created, err := a.store.CreateSite(r.Context(), site.Site{
		ProjectID:   projectID,
		Name:        strings.TrimSpace(req.Name),
		AnchorLat:   req.AnchorLat,
		AnchorLng:   req.AnchorLng,
		RotationDeg: req.RotationDeg,
		Rows:        req.Rows,
		Cols:        req.Cols,
		SpacingM:    req.SpacingM,
		Levels:      req.Levels,
		GroundLevel: req.GroundLevel,
	})
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	a.audit(r.Context(), "site.create", map[string]any{
		"site_id":    created.ID,
		"project_id": created.ProjectID,
		"rows":       created.Rows,
		"cols":       created.Cols,
	})
	w.Header().Set("Location", "/v1/sites/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleSiteResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sites/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/zones") {
		siteID := strings.TrimSuffix(path, "/zones")
		if siteID == "" || strings.Contains(siteID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleSiteZones(w, r, siteID)
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
	s, err := a.store.GetSite(r.Context(), path)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// handleSiteZones generates the full zone grid for a site. Every (level, row,
// col) cell gets a zone; overrides adjust individual cells before insertion.
func (a *API) handleSiteZones(w http.ResponseWriter, r *http.Request, siteID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireManager(w, r) {
		return
	}
	// An empty body generates the plain default grid.
	var req generateZonesRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	s, err := a.store.GetSite(r.Context(), siteID)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}

	defaultType := site.ZoneOutdoor
	if req.DefaultType != "" {
		t, ok := parseZoneType(req.DefaultType)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown default_type")
			return
		}
		defaultType = t
	}

	type cellKey struct {
		level    string
		row, col int
	}
	overrides := make(map[cellKey]zoneOverride, len(req.Overrides))
	for _, o := range req.Overrides {
		if o.Type != "" {
			if _, ok := parseZoneType(o.Type); !ok {
				writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown zone type %q", o.Type))
				return
			}
		}
		if o.Row < 0 || o.Row >= s.Rows || o.Col < 0 || o.Col >= s.Cols {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("override cell (%d,%d) outside grid", o.Row, o.Col))
			return
		}
		overrides[cellKey{o.Level, o.Row, o.Col}] = o
	}

	zones := make([]site.Zone, 0, len(s.Levels)*s.Rows*s.Cols)
	for _, level := range s.Levels {
		for row := 0; row < s.Rows; row++ {
			for col := 0; col < s.Cols; col++ {
				z := site.Zone{
					Level: level,
					Row:   row,
					Col:   col,
					Name:  fmt.Sprintf("%s-%d-%d", level, row, col),
					Type:  defaultType,
				}
				if o, ok := overrides[cellKey{level, row, col}]; ok {
					if o.Name != "" {
						z.Name = o.Name
					}
					if o.Type != "" {
						z.Type, _ = parseZoneType(o.Type)
					}
					z.StaticHazards = o.StaticHazards
				}
				zones = append(zones, z)
			}
		}
	}

	created, err := a.store.GenerateZones(r.Context(), siteID, zones)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	a.audit(r.Context(), "site.zones.generate", map[string]any{
		"site_id": siteID,
		"zones":   len(created),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"site_id": siteID,
		"zones":   created,
	})
}

func (a *API) handleZoneResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/zones/"), "/")
	zoneID, ok := strings.CutSuffix(path, "/hazards")
	if !ok || zoneID == "" || strings.Contains(zoneID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getZoneHazards(w, r, zoneID)
	case http.MethodPut:
		a.putZoneHazards(w, r, zoneID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// getZoneHazards returns the aggregated hazard picture for one date,
// defaulting to today.
func (a *API) getZoneHazards(w http.ResponseWriter, r *http.Request, zoneID string) {
	day := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	summary, err := a.agg.Aggregate(r.Context(), zoneID, day)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"zone_id":     zoneID,
		"date":        site.Day(day).Format("2006-01-02"),
		"hazards":     summary.Hazards,
		"alert_level": summary.Level,
	})
}

func (a *API) putZoneHazards(w http.ResponseWriter, r *http.Request, zoneID string) {
	if !a.requireManager(w, r) {
		return
	}
	var req putHazardsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	hazards := make([]string, 0, len(req.Hazards))
	for _, h := range req.Hazards {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		hazards = append(hazards, h)
	}
	zone, err := a.store.SetZoneStaticHazards(r.Context(), zoneID, hazards)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	a.audit(r.Context(), "zone.hazards.update", map[string]any{
		"zone_id": zoneID,
		"hazards": len(hazards),
	})
	writeJSON(w, http.StatusOK, zone)
}

// callerProject prefers the authenticated principal's project over the body.
func (a *API) callerProject(r *http.Request, bodyProject string) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return principal.ProjectID
	}
	return strings.TrimSpace(bodyProject)
}

func parseZoneType(raw string) (site.ZoneType, bool) {
	switch site.ZoneType(strings.ToUpper(strings.TrimSpace(raw))) {
	case site.ZoneIndoor:
		return site.ZoneIndoor, true
	case site.ZoneOutdoor:
		return site.ZoneOutdoor, true
	case site.ZoneRoof:
		return site.ZoneRoof, true
	case site.ZonePit:
		return site.ZonePit, true
	case site.ZoneDanger:
		return site.ZoneDanger, true
	}
	return "", false
}
