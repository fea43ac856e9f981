package server

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"oidcp/kv"
	"oidcp/secrets"
)

const (
	testClientID     = "web-client"
	testClientSecret = "s3cret-value"
	testRedirectURI  = "https://rp.example/callback"
)

func newTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "http://provider.test"
	cfg.Clients = []ClientConfig{{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURIs: []string{testRedirectURI},
	}}
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(context.Background(), cfg, kv.NewMemoryBackend(), secrets.NewMemoryStore(), logger)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app
}

func mustCreateUser(t *testing.T, app *App, username, password, email string) *User {
	t.Helper()
	user, err := app.Credentials.CreateUser(context.Background(), username, password, email)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}
