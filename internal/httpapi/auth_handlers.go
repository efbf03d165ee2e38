package httpapi

import (
	"net/http"
	"strings"
	"time"

	"sitewatch.org/internal/auth"
)

type tokenRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	Role      string `json:"role"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken mints a development token. Production deployments sit
// behind an identity provider and leave this endpoint disabled.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !auth.SupportsTokens() {
		writeError(w, r, http.StatusServiceUnavailable, "token signing is not configured")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	projectID := strings.TrimSpace(req.ProjectID)
	if userID == "" || projectID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and project_id are required")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = auth.RoleWorker
	}

	token, err := auth.GenerateToken(userID, projectID, role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	a.audit(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    userID,
		"project_id": projectID,
		"role":       role,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
