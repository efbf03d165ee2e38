// Package ingest orchestrates the position pipeline: resolve the zone,
// aggregate hazards, persist the reading and notify on alert transitions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitewatch.org/internal/broker"
	"sitewatch.org/internal/geofence"
	"sitewatch.org/internal/hazard"
	"sitewatch.org/internal/obs"
	"sitewatch.org/internal/site"
)

// Service wires the safety core together. Submissions for different workers
// are independent and safe to run concurrently; the only shared mutation
// points are the store and the broker registry.
type Service struct {
	store    site.Store
	resolver *geofence.Resolver
	agg      *hazard.Aggregator
	broker   *broker.Broker
}

// Result is the synchronous acknowledgment returned to the reporting device.
type Result struct {
	Report  site.PositionReport
	Hazards []string
}

// New builds the service.
func New(store site.Store, resolver *geofence.Resolver, agg *hazard.Aggregator, b *broker.Broker) *Service {
	return &Service{store: store, resolver: resolver, agg: agg, broker: b}
}

// Submit processes one position report. Unresolved positions are persisted
// with an UNKNOWN alert level and acknowledged without error. When hazard
// sources are unavailable the position is persisted with UNKNOWN rather than
// stale hazards, and the retryable error is returned alongside the saved
// acknowledgment.
func (s *Service) Submit(ctx context.Context, report site.PositionReport) (Result, error) {
	if strings.TrimSpace(report.WorkerID) == "" || strings.TrimSpace(report.SiteID) == "" {
		return Result{}, fmt.Errorf("%w: worker_id and site_id are required", site.ErrInvalidInput)
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	zone, ok, err := s.resolver.Resolve(ctx, report)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		report.ZoneID = ""
		report.Alert = site.AlertUnknown
		saved, err := s.store.SavePositionReport(ctx, report)
		if err != nil {
			return Result{}, fmt.Errorf("save position report: %w", err)
		}
		obs.PositionIngested(string(report.Mode), "unresolved")
		return Result{Report: saved}, nil
	}

	report.ZoneID = zone.ID
	if report.Level == "" {
		report.Level = zone.Level
	}

	summary, aggErr := s.agg.Aggregate(ctx, zone.ID, site.Day(report.Timestamp))
	if aggErr != nil {
		report.Alert = site.AlertUnknown
		saved, err := s.store.SavePositionReport(ctx, report)
		if err != nil {
			return Result{}, fmt.Errorf("save position report: %w", err)
		}
		obs.PositionIngested(string(report.Mode), "degraded")
		return Result{Report: saved}, aggErr
	}
	report.Alert = summary.Level

	prev, err := s.store.LastPosition(ctx, report.WorkerID)
	prevLevel := site.AlertSafe
	switch {
	case err == nil:
		prevLevel = prev.Alert
	case errors.Is(err, site.ErrNotFound):
		// First report for this worker: baseline SAFE so an immediate
		// WARNING or DANGER still notifies.
	default:
		saved, saveErr := s.store.SavePositionReport(ctx, report)
		if saveErr != nil {
			return Result{}, fmt.Errorf("save position report: %w", saveErr)
		}
		return Result{Report: saved, Hazards: summary.Hazards}, fmt.Errorf("load last alert level: %w", err)
	}

	saved, err := s.store.SavePositionReport(ctx, report)
	if err != nil {
		return Result{}, fmt.Errorf("save position report: %w", err)
	}
	obs.PositionIngested(string(report.Mode), "resolved")

	if summary.Level != prevLevel {
		obs.AlertTransition(string(summary.Level))
		s.notifyTransition(saved, zone, summary)
	}

	return Result{Report: saved, Hazards: summary.Hazards}, nil
}

// notifyTransition publishes the pair of events for a worker crossing into a
// WARNING or DANGER zone: one targeted at the worker's own device, one
// broadcast for the project's dashboards.
func (s *Service) notifyTransition(report site.PositionReport, zone site.Zone, summary hazard.Summary) {
	if summary.Level != site.AlertWarning && summary.Level != site.AlertDanger {
		return
	}

	targeted := broker.NewEvent(report.ProjectID, broker.EventPushAlert, map[string]any{
		"worker_id":   report.WorkerID,
		"zone_id":     zone.ID,
		"zone_name":   zone.Name,
		"alert_level": summary.Level,
		"hazards":     summary.Hazards,
	})
	targeted.TargetUserID = report.WorkerID
	s.broker.Publish(report.ProjectID, targeted)

	s.broker.Publish(report.ProjectID, broker.NewEvent(report.ProjectID, broker.EventHazardEntered, map[string]any{
		"worker_id":   report.WorkerID,
		"zone_id":     zone.ID,
		"zone_name":   zone.Name,
		"alert_level": summary.Level,
	}))
}
