package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sitewatch.org/internal/hazard"
	"sitewatch.org/internal/site"
)

type positionRequest struct {
	SiteID    string               `json:"site_id"`
	ProjectID string               `json:"project_id"`
	WorkerID  string               `json:"worker_id"`
	Timestamp time.Time            `json:"timestamp"`
	Mode      string               `json:"mode"`
	Lat       float64              `json:"lat"`
	Lng       float64              `json:"lng"`
	Level     string               `json:"level"`
	Beacons   []site.BeaconReading `json:"beacons"`
}

type positionResponse struct {
	Position site.PositionReport `json:"position"`
	Hazards  []string            `json:"hazards"`
	Degraded bool                `json:"degraded,omitempty"`
}

// handlePositions ingests one worker location sample. The response always
// acknowledges the persisted reading; a degraded hazard lookup is reported in
// the body, not as a failure.
func (a *API) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req positionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	report := site.PositionReport{
		SiteID:    strings.TrimSpace(req.SiteID),
		ProjectID: a.callerProject(r, req.ProjectID),
		WorkerID:  a.callerUser(r, req.WorkerID),
		Timestamp: req.Timestamp,
		Mode:      site.PositionMode(strings.ToUpper(strings.TrimSpace(req.Mode))),
		Lat:       req.Lat,
		Lng:       req.Lng,
		Level:     strings.TrimSpace(req.Level),
		Beacons:   req.Beacons,
	}

	result, err := a.ingest.Submit(r.Context(), report)
	if err != nil && !errors.Is(err, hazard.ErrSourceUnavailable) {
		handleSiteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Position: result.Report,
		Hazards:  result.Hazards,
		Degraded: err != nil,
	})
}

func (a *API) handleWorkerResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/workers/"), "/")
	workerID, ok := strings.CutSuffix(path, "/position")
	if !ok || workerID == "" || strings.Contains(workerID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	last, err := a.store.LastPosition(r.Context(), workerID)
	if err != nil {
		handleSiteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, last)
}
