package server

import "time"

// User is an authenticable principal. PasswordHash never leaves the server
// package; response payloads use redacted views.
type User struct {
	UserID        string       `json:"user_id"`
	Username      string       `json:"username"`
	PasswordHash  string       `json:"password_hash"`
	Email         string       `json:"email"`
	EmailVerified bool         `json:"email_verified"`
	Profile       *UserProfile `json:"profile,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// UserProfile holds optional OIDC profile attributes surfaced by /userinfo.
type UserProfile struct {
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	MiddleName string `json:"middle_name,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
	Picture    string `json:"picture,omitempty"`
	Website    string `json:"website,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Birthdate  string `json:"birthdate,omitempty"`
	Zoneinfo   string `json:"zoneinfo,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

// Client records a registered relying party. A client with no secret is
// public and is expected to bind its codes with PKCE.
type Client struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Name         string   `json:"name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}

// AuthorizationCode is the one-time proof that a user approved a
// client+redirect+scope. Expiry is epoch seconds, matching the backing
// store's TTL attribute.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	UserID              string    `json:"user_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ApplicationID       string    `json:"application_id,omitempty"`
	Account             string    `json:"account,omitempty"`
	ExpiresAt           int64     `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// LoginSession carries authorization-request state between credential
// verification and application selection. Read once, then discarded.
type LoginSession struct {
	SessionID           string `json:"session_id"`
	UserID              string `json:"user_id"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	ExpiresAt           int64  `json:"expires_at"`
}

// RefreshToken is the stored record behind an opaque refresh token value.
type RefreshToken struct {
	TokenID   string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt int64     `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Application is a downstream application selectable in the session flow
// variant. Provisioned out-of-band; read-only here.
type Application struct {
	ApplicationID string `json:"application_id"`
	ClientID      string `json:"client_id,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	Name          string `json:"name,omitempty"`
}

// TokenResponse matches the OAuth token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
