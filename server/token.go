package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService redeems authorization codes and refresh tokens for signed
// tokens, enforcing the binding and expiry checks in order.
type TokenService struct {
	store         *Store
	registry      *ClientRegistry
	keys          *KeyManager
	accessTTL     time.Duration
	rotateRefresh bool
	logger        *slog.Logger
}

// NewTokenService constructs the exchange engine.
func NewTokenService(cfg Config, store *Store, registry *ClientRegistry, keys *KeyManager, logger *slog.Logger) *TokenService {
	return &TokenService{
		store:         store,
		registry:      registry,
		keys:          keys,
		accessTTL:     cfg.Tokens.AccessTTL,
		rotateRefresh: cfg.Tokens.RotateRefresh,
		logger:        logger,
	}
}

type codeGrant struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeAuthorizationCode redeems a code for an access/ID/refresh token
// triple. Any failing check short-circuits with its OAuth error; the code
// is spent on first contact regardless of the outcome.
func (ts *TokenService) ExchangeAuthorizationCode(ctx context.Context, g codeGrant) (*TokenResponse, error) {
	if g.Code == "" || g.RedirectURI == "" {
		return nil, invalidRequest("Missing code or redirect_uri")
	}

	client, err := ts.registry.Validate(ctx, g.ClientID, g.ClientSecret, g.RedirectURI)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, invalidClient("Invalid client credentials")
	}

	// The single atomic take both fetches and invalidates: a concurrent
	// redemption of the same code cannot also get here.
	code, err := ts.store.RedeemAuthCode(ctx, g.Code)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, invalidGrant("Invalid or expired authorization code")
	}

	if code.ClientID != g.ClientID || code.RedirectURI != g.RedirectURI {
		return nil, invalidGrant("Authorization code mismatch")
	}
	if expired(code.ExpiresAt) {
		return nil, invalidGrant("Authorization code expired")
	}
	if code.CodeChallenge != "" {
		if !verifyCodeChallenge(g.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			return nil, invalidGrant("Invalid code_verifier")
		}
	}

	user, err := ts.store.GetUserByID(ctx, code.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, invalidGrant("User not found")
	}

	accessToken, idToken, err := ts.mintTokenPair(ctx, user, g.ClientID, code.Scope)
	if err != nil {
		return nil, err
	}
	refreshID, err := ts.store.IssueRefreshToken(ctx, user.UserID, g.ClientID, code.Scope)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(ts.accessTTL.Seconds()),
		RefreshToken: refreshID,
		IDToken:      idToken,
		Scope:        code.Scope,
	}, nil
}

type refreshGrant struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// ExchangeRefreshToken re-mints an access/ID token pair with the stored
// scope. Rotation of the refresh token itself is governed by configuration;
// without it the token stays valid until its own expiry.
func (ts *TokenService) ExchangeRefreshToken(ctx context.Context, g refreshGrant) (*TokenResponse, error) {
	if g.RefreshToken == "" {
		return nil, invalidRequest("Missing refresh_token")
	}

	client, err := ts.registry.Validate(ctx, g.ClientID, g.ClientSecret, "")
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, invalidClient("Invalid client credentials")
	}

	stored, err := ts.store.GetRefreshToken(ctx, g.RefreshToken)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, invalidGrant("Invalid refresh token")
	}
	if stored.ClientID != g.ClientID {
		return nil, invalidGrant("Refresh token mismatch")
	}
	if expired(stored.ExpiresAt) {
		if err := ts.store.InvalidateRefreshToken(ctx, stored.TokenID); err != nil {
			ts.logger.Warn("invalidate expired refresh token", "error", err)
		}
		return nil, invalidGrant("Refresh token expired")
	}

	user, err := ts.store.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, invalidGrant("User not found")
	}

	accessToken, idToken, err := ts.mintTokenPair(ctx, user, g.ClientID, stored.Scope)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ts.accessTTL.Seconds()),
		IDToken:     idToken,
		Scope:       stored.Scope,
	}

	if ts.rotateRefresh {
		if err := ts.store.InvalidateRefreshToken(ctx, stored.TokenID); err != nil {
			return nil, err
		}
		rotated, err := ts.store.IssueRefreshToken(ctx, stored.UserID, stored.ClientID, stored.Scope)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = rotated
	}

	return resp, nil
}

// mintTokenPair signs the access and ID tokens for a user/client/scope.
// The access token carries scope; the ID token carries identity claims.
func (ts *TokenService) mintTokenPair(ctx context.Context, user *User, clientID, scope string) (string, string, error) {
	now := time.Now().Unix()

	accessToken, err := ts.keys.Sign(ctx, jwt.MapClaims{
		"sub":   user.UserID,
		"aud":   clientID,
		"scope": scope,
		"iat":   now,
	}, ts.accessTTL)
	if err != nil {
		return "", "", err
	}

	name := user.Username
	if user.Profile != nil && user.Profile.Name != "" {
		name = user.Profile.Name
	}
	idToken, err := ts.keys.Sign(ctx, jwt.MapClaims{
		"sub":            user.UserID,
		"aud":            clientID,
		"name":           name,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"iat":            now,
	}, ts.accessTTL)
	if err != nil {
		return "", "", err
	}

	return accessToken, idToken, nil
}

// verifyCodeChallenge checks a PKCE verifier against the stored challenge
// under the stored method.
func verifyCodeChallenge(verifier, challenge, method string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case "plain":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		digest := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(digest), []byte(challenge)) == 1
	}
	return false
}

// handleToken serves POST /token for the authorization_code and
// refresh_token grants. Basic-auth client credentials take precedence over
// body credentials.
func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, invalidRequest("Invalid form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	grantType := r.FormValue("grant_type")
	if grantType == "" || clientID == "" {
		writeOAuthError(w, invalidRequest("Missing required parameters"))
		return
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch grantType {
	case "authorization_code":
		resp, err = a.Tokens.ExchangeAuthorizationCode(r.Context(), codeGrant{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.FormValue("code"),
			RedirectURI:  r.FormValue("redirect_uri"),
			CodeVerifier: r.FormValue("code_verifier"),
		})
	case "refresh_token":
		resp, err = a.Tokens.ExchangeRefreshToken(r.Context(), refreshGrant{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RefreshToken: r.FormValue("refresh_token"),
		})
	default:
		writeOAuthError(w, &OAuthError{Code: "unsupported_grant_type", Description: "Grant type not supported", Status: http.StatusBadRequest})
		return
	}

	if err != nil {
		var oe *OAuthError
		if !errors.As(err, &oe) {
			a.Logger.Error("token exchange failed", "grant_type", grantType, "error", err)
		}
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientCredentials extracts client id/secret, preferring the Basic auth
// header over body parameters.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}
