package server

import "net/http"

// DiscoveryDocument is the OIDC provider-metadata shape.
type DiscoveryDocument map[string]any

// BuildDiscoveryDocument constructs the discovery metadata for this issuer.
func BuildDiscoveryDocument(cfg Config) DiscoveryDocument {
	issuer := cfg.Issuer()
	return DiscoveryDocument{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"plain", "S256"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"claims_supported": []string{
			"sub", "name", "given_name", "family_name", "middle_name", "nickname",
			"preferred_username", "profile", "picture", "website", "gender",
			"birthdate", "zoneinfo", "locale", "updated_at", "email", "email_verified",
		},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post", "none"},
	}
}

func (a *App) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildDiscoveryDocument(a.Config))
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := a.Keys.PublicJWKS(r.Context())
	if err != nil {
		a.Logger.Error("export jwks", "error", err)
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}
