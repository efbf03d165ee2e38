package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"sitewatch.org/internal/auth"
)

// Stream serves the project's live safety events over Server-Sent Events.
// Workers receive broadcasts plus events targeted at their own user id;
// managers subscribe unscoped and receive every broadcast.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	projectID, userID, ok := a.streamIdentity(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "project_id is required")
		return
	}

	flusher, okFlush := w.(http.Flusher)
	if !okFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := a.broker.Subscribe(r.Context(), projectID, userID)
	defer sub.Close()

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range sub.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// streamIdentity derives the subscription scope. With auth enabled the
// principal decides; without it the query parameters do, for local use.
func (a *API) streamIdentity(r *http.Request) (projectID, userID string, ok bool) {
	if principal, found := auth.PrincipalFromContext(r.Context()); found {
		if principal.IsManager() {
			return principal.ProjectID, "", true
		}
		return principal.ProjectID, principal.UserID, true
	}
	projectID = strings.TrimSpace(r.URL.Query().Get("project_id"))
	userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	return projectID, userID, projectID != ""
}
