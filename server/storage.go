package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"oidcp/kv"
)

// Store owns the lifecycle of codes, refresh tokens, login sessions, and
// the persisted user/client/application records. Expiry is evaluated at
// the moment of use; expired records read as absent and are deleted
// opportunistically.
type Store struct {
	backend    kv.Backend
	codeTTL    time.Duration
	sessionTTL time.Duration
	refreshTTL time.Duration

	users         kv.Table
	clients       kv.Table
	authCodes     kv.Table
	refreshTokens kv.Table
	sessions      kv.Table
	applications  kv.Table
	usernameIndex kv.Index
}

// NewStore wires the store to a backend using the configured table names.
func NewStore(cfg Config, backend kv.Backend) *Store {
	t := cfg.Storage.Tables
	return &Store{
		backend:       backend,
		codeTTL:       cfg.Tokens.CodeTTL,
		sessionTTL:    cfg.Tokens.SessionTTL,
		refreshTTL:    cfg.Tokens.RefreshTTL,
		users:         kv.Table{Name: t.Users, Key: "user_id"},
		clients:       kv.Table{Name: t.Clients, Key: "client_id"},
		authCodes:     kv.Table{Name: t.AuthCodes, Key: "code"},
		refreshTokens: kv.Table{Name: t.RefreshTokens, Key: "token_id"},
		sessions:      kv.Table{Name: t.Sessions, Key: "session_id"},
		applications:  kv.Table{Name: t.Applications, Key: "application_id"},
		usernameIndex: kv.Index{Name: cfg.Storage.UsernameIndex, Attr: "username"},
	}
}

// newCode returns a URL-safe code with 256 bits of entropy.
func newCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueAuthCode mints and persists an authorization code bound to the given
// user, client, redirect target, scope, and optional PKCE challenge.
func (s *Store) IssueAuthCode(ctx context.Context, code AuthorizationCode) (string, error) {
	value, err := newCode()
	if err != nil {
		return "", err
	}
	code.Code = value
	code.CreatedAt = time.Now()
	code.ExpiresAt = time.Now().Add(s.codeTTL).Unix()
	if err := s.backend.Put(ctx, s.authCodes, value, code); err != nil {
		return "", err
	}
	return value, nil
}

// RedeemAuthCode atomically removes and returns the code record. A second
// redemption of the same code, concurrent or not, finds nothing. The record
// is returned even when expired so the caller can report expiry distinctly;
// either way it is gone from the store.
func (s *Store) RedeemAuthCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var rec AuthorizationCode
	ok, err := s.backend.Take(ctx, s.authCodes, code, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// InvalidateAuthCode removes a code without returning it.
func (s *Store) InvalidateAuthCode(ctx context.Context, code string) error {
	return s.backend.Delete(ctx, s.authCodes, code)
}

// IssueRefreshToken persists a refresh token record and returns its opaque id.
func (s *Store) IssueRefreshToken(ctx context.Context, userID, clientID, scope string) (string, error) {
	rt := RefreshToken{
		TokenID:   uuid.NewString(),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: time.Now().Add(s.refreshTTL).Unix(),
		CreatedAt: time.Now(),
	}
	if err := s.backend.Put(ctx, s.refreshTokens, rt.TokenID, rt); err != nil {
		return "", err
	}
	return rt.TokenID, nil
}

// GetRefreshToken fetches a refresh token record. The caller enforces
// expiry so it can invalidate-then-fail with a precise error.
func (s *Store) GetRefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error) {
	var rt RefreshToken
	ok, err := s.backend.Get(ctx, s.refreshTokens, tokenID, &rt)
	if err != nil || !ok {
		return nil, err
	}
	return &rt, nil
}

// InvalidateRefreshToken removes a refresh token record.
func (s *Store) InvalidateRefreshToken(ctx context.Context, tokenID string) error {
	return s.backend.Delete(ctx, s.refreshTokens, tokenID)
}

// CreateLoginSession persists transient authorization-request state and
// returns the session id.
func (s *Store) CreateLoginSession(ctx context.Context, sess LoginSession) (string, error) {
	sess.SessionID = uuid.NewString()
	sess.ExpiresAt = time.Now().Add(s.sessionTTL).Unix()
	if err := s.backend.Put(ctx, s.sessions, sess.SessionID, sess); err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// TakeLoginSession atomically removes and returns a login session. Sessions
// follow the same single-read discipline as codes.
func (s *Store) TakeLoginSession(ctx context.Context, sessionID string) (*LoginSession, error) {
	var sess LoginSession
	ok, err := s.backend.Take(ctx, s.sessions, sessionID, &sess)
	if err != nil || !ok {
		return nil, err
	}
	return &sess, nil
}

// GetUserByID fetches a user record.
func (s *Store) GetUserByID(ctx context.Context, userID string) (*User, error) {
	var u User
	ok, err := s.backend.Get(ctx, s.users, userID, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername resolves a user through the username index.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	ok, err := s.backend.QueryIndex(ctx, s.users, s.usernameIndex, username, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

// PutUser stores or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u *User) error {
	return s.backend.Put(ctx, s.users, u.UserID, u)
}

// GetClient fetches a registered client.
func (s *Store) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var c Client
	ok, err := s.backend.Get(ctx, s.clients, clientID, &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

// PutClient stores a client record (startup seeding and tests).
func (s *Store) PutClient(ctx context.Context, c *Client) error {
	return s.backend.Put(ctx, s.clients, c.ClientID, c)
}

// GetApplication fetches a downstream application record.
func (s *Store) GetApplication(ctx context.Context, applicationID string) (*Application, error) {
	var a Application
	ok, err := s.backend.Get(ctx, s.applications, applicationID, &a)
	if err != nil || !ok {
		return nil, err
	}
	return &a, nil
}

// PutApplication stores an application record (provisioning and tests).
func (s *Store) PutApplication(ctx context.Context, a *Application) error {
	return s.backend.Put(ctx, s.applications, a.ApplicationID, a)
}

// expired reports whether an epoch-seconds deadline has passed.
func expired(unixSeconds int64) bool {
	return unixSeconds < time.Now().Unix()
}
