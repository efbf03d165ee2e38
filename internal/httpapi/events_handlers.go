package httpapi

import (
	"net/http"
	"strings"

	"sitewatch.org/internal/broker"
)

type publishEventRequest struct {
	ProjectID     string   `json:"project_id"`
	Type          string   `json:"type"`
	Payload       any      `json:"payload"`
	TargetUserIDs []string `json:"target_user_ids"`
}

// handleEvents lets managers push notices, emergency alerts and other
// administrative events onto the project stream. With target_user_ids set a
// copy is addressed to each listed user instead of broadcasting.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireManager(w, r) {
		return
	}
	var req publishEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	eventType := broker.EventType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !eventType.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown event type")
		return
	}
	projectID := a.callerProject(r, req.ProjectID)
	if projectID == "" {
		writeError(w, r, http.StatusBadRequest, "project_id is required")
		return
	}

	published := make([]string, 0, 1)
	if len(req.TargetUserIDs) == 0 {
		evt := broker.NewEvent(projectID, eventType, req.Payload)
		a.broker.Publish(projectID, evt)
		published = append(published, evt.ID)
	} else {
		for _, userID := range req.TargetUserIDs {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				continue
			}
			evt := broker.NewEvent(projectID, eventType, req.Payload)
			evt.TargetUserID = userID
			a.broker.Publish(projectID, evt)
			published = append(published, evt.ID)
		}
		if len(published) == 0 {
			writeError(w, r, http.StatusBadRequest, "target_user_ids contains no usable ids")
			return
		}
	}

	a.audit(r.Context(), "event.publish", map[string]any{
		"project_id": projectID,
		"type":       string(eventType),
		"targets":    len(req.TargetUserIDs),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_ids": published,
	})
}
