// Package httpapi is the HTTP surface of the safety core: position ingestion,
// the live event stream and the management endpoints for sites, work plans
// and danger reports.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sitewatch.org/internal/audit"
	"sitewatch.org/internal/broker"
	"sitewatch.org/internal/geofence"
	"sitewatch.org/internal/hazard"
	"sitewatch.org/internal/ingest"
	"sitewatch.org/internal/obs"
	"sitewatch.org/internal/site"
)

// ReadyProbe checks the dependencies behind /readyz. A nil DB means the
// in-memory store is in use and the probe always passes.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the safety core behind a ServeMux.
type API struct {
	mux        *http.ServeMux
	store      site.Store
	resolver   *geofence.Resolver
	agg        *hazard.Aggregator
	ingest     *ingest.Service
	broker     *broker.Broker
	cache      hazard.ReportCache
	readyProbe ReadyProbe
	version    string

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// New assembles the API. cache may be nil; the aggregator then reads reports
// straight from the store.
func New(rp ReadyProbe, version string, store site.Store, b *broker.Broker, cache hazard.ReportCache) *API {
	agg := hazard.NewAggregator(store, cache)
	resolver := geofence.NewResolver(store, 0)
	a := &API{
		mux:          http.NewServeMux(),
		store:        store,
		resolver:     resolver,
		agg:          agg,
		ingest:       ingest.New(store, resolver, agg, b),
		broker:       b,
		cache:        cache,
		readyProbe:   rp,
		version:      version,
		rateBurst:    100,
		ratePerSec:   50,
		maxBodyBytes: 1 << 20,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/positions", a.handlePositions)
	a.mux.HandleFunc("/v1/stream", a.Stream)
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	a.mux.HandleFunc("/v1/sites", a.handleSitesCollection)
	a.mux.HandleFunc("/v1/sites/", a.handleSiteResource)
	a.mux.HandleFunc("/v1/zones/", a.handleZoneResource)
	a.mux.HandleFunc("/v1/work-plans", a.handleWorkPlansCollection)
	a.mux.HandleFunc("/v1/work-plans/", a.handleWorkPlanResource)
	a.mux.HandleFunc("/v1/danger-reports", a.handleDangerReportsCollection)
	a.mux.HandleFunc("/v1/danger-reports/", a.handleDangerReportResource)
	a.mux.HandleFunc("/v1/workers/", a.handleWorkerResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Tune adjusts the throttling and body size limits. Call before Handler.
func (a *API) Tune(burst, perSecond int, maxBodyBytes int64) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSecond > 0 {
		a.ratePerSec = perSecond
	}
	if maxBodyBytes > 0 {
		a.maxBodyBytes = maxBodyBytes
	}
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sitewatch-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sitewatch-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleSiteError maps domain sentinels onto HTTP status codes.
func handleSiteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, site.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, site.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, site.ErrZonesGenerated),
		errors.Is(err, site.ErrPlanDone),
		errors.Is(err, site.ErrBadTransition),
		errors.Is(err, site.ErrReportReviewed):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, hazard.ErrSourceUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
