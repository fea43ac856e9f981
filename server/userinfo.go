package server

import (
	"net/http"
	"slices"
	"strings"
	"time"
)

// buildUserInfo assembles the scope-filtered claims object. "sub" is always
// present; profile and email blocks appear only for their scopes, and
// attributes without a source value are omitted entirely.
func buildUserInfo(user *User, scope string) map[string]any {
	scopes := strings.Fields(scope)
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}

	info := map[string]any{"sub": user.UserID}

	if slices.Contains(scopes, "profile") {
		name := user.Username
		if user.Profile != nil && user.Profile.Name != "" {
			name = user.Profile.Name
		}
		setIf(info, "name", name)
		setIf(info, "preferred_username", user.Username)
		if p := user.Profile; p != nil {
			setIf(info, "given_name", p.GivenName)
			setIf(info, "family_name", p.FamilyName)
			setIf(info, "middle_name", p.MiddleName)
			setIf(info, "nickname", p.Nickname)
			setIf(info, "profile", p.ProfileURL)
			setIf(info, "picture", p.Picture)
			setIf(info, "website", p.Website)
			setIf(info, "gender", p.Gender)
			setIf(info, "birthdate", p.Birthdate)
			setIf(info, "zoneinfo", p.Zoneinfo)
			setIf(info, "locale", p.Locale)
		}
		if !user.UpdatedAt.IsZero() {
			info["updated_at"] = user.UpdatedAt.Format(time.RFC3339)
		}
	}

	if slices.Contains(scopes, "email") {
		setIf(info, "email", user.Email)
		info["email_verified"] = user.EmailVerified
	}

	return info
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// handleUserInfo serves GET /userinfo from a verified Bearer access token.
func (a *App) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeOAuthError(w, &OAuthError{Code: "invalid_request", Description: "Missing access token", Status: http.StatusUnauthorized})
		return
	}

	claims, err := a.Keys.Verify(r.Context(), token)
	if err != nil {
		writeOAuthError(w, invalidToken("Invalid or expired access token"))
		return
	}

	sub, _ := claims["sub"].(string)
	user, err := a.Store.GetUserByID(r.Context(), sub)
	if err != nil {
		a.Logger.Error("lookup user for userinfo", "error", err)
		writeOAuthError(w, err)
		return
	}
	if user == nil {
		writeOAuthError(w, invalidToken("User not found"))
		return
	}

	scope, _ := claims["scope"].(string)
	writeJSON(w, http.StatusOK, buildUserInfo(user, scope))
}
