package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// OAuthError is a protocol-level failure surfaced to the caller with a
// standard OAuth2 error code. Infrastructure failures stay plain errors and
// are mapped to server_error without leaking detail.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	return e.Code + ": " + e.Description
}

func invalidRequest(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_request", Description: desc, Status: http.StatusBadRequest}
}

func invalidClient(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_client", Description: desc, Status: http.StatusUnauthorized}
}

func invalidGrant(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_grant", Description: desc, Status: http.StatusBadRequest}
}

func invalidToken(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_token", Description: desc, Status: http.StatusUnauthorized}
}

func serverError() *OAuthError {
	return &OAuthError{Code: "server_error", Description: "Internal server error", Status: http.StatusInternalServerError}
}

// writeOAuthError writes err as a JSON error body. Non-OAuthError values
// become an opaque server_error.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oe *OAuthError
	if !errors.As(err, &oe) {
		oe = serverError()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oe.Status)
	_ = json.NewEncoder(w).Encode(oe)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
