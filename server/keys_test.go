package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"oidcp/secrets"
)

func newTestKeyManager(t *testing.T, store secrets.Store) *KeyManager {
	t.Helper()
	cfg := newTestConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewKeyManager(cfg, store, logger)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	km := newTestKeyManager(t, secrets.NewMemoryStore())
	ctx := context.Background()

	token, err := km.Sign(ctx, jwt.MapClaims{"sub": "u1", "scope": "openid email"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := km.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims["sub"] != "u1" || claims["scope"] != "openid email" {
		t.Fatalf("claims did not round-trip: %v", claims)
	}
	if claims["iss"] != "http://provider.test" {
		t.Fatalf("unexpected issuer: %v", claims["iss"])
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	km := newTestKeyManager(t, secrets.NewMemoryStore())
	ctx := context.Background()

	token, err := km.Sign(ctx, jwt.MapClaims{"sub": "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := km.Verify(ctx, token); err == nil {
		t.Fatalf("expired token verified")
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	store := secrets.NewMemoryStore()
	km := newTestKeyManager(t, store)
	ctx := context.Background()

	token, err := km.Sign(ctx, jwt.MapClaims{"sub": "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := newTestConfig()
	other.Server.PublicURL = "http://other-issuer.test"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	km2 := NewKeyManager(other, store, logger)
	if _, err := km2.Verify(ctx, token); err == nil {
		t.Fatalf("token with foreign issuer verified")
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	km := newTestKeyManager(t, secrets.NewMemoryStore())
	ctx := context.Background()

	// Prime key material so Verify has a key to consult.
	if _, err := km.Sign(ctx, jwt.MapClaims{"sub": "u1"}, time.Hour); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"iss": "http://provider.test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("guessable"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	if _, err := km.Verify(ctx, signed); err == nil {
		t.Fatalf("HS256 token accepted")
	}
}

func TestKeyMaterialPersistsAcrossManagers(t *testing.T) {
	store := secrets.NewMemoryStore()
	ctx := context.Background()

	km1 := newTestKeyManager(t, store)
	token, err := km1.Sign(ctx, jwt.MapClaims{"sub": "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// A fresh manager over the same secret store must load, not regenerate.
	km2 := newTestKeyManager(t, store)
	if _, err := km2.Verify(ctx, token); err != nil {
		t.Fatalf("token signed before restart did not verify: %v", err)
	}
}

func TestPublicJWKS(t *testing.T) {
	km := newTestKeyManager(t, secrets.NewMemoryStore())
	ctx := context.Background()

	set, err := km.PublicJWKS(ctx)
	if err != nil {
		t.Fatalf("PublicJWKS: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("expected a single active key, got %d", len(set.Keys))
	}
	key := set.Keys[0]
	if key.KeyID == "" || key.Algorithm != "RS256" || key.Use != "sig" {
		t.Fatalf("unexpected JWK: kid=%q alg=%q use=%q", key.KeyID, key.Algorithm, key.Use)
	}

	token, err := km.Sign(ctx, jwt.MapClaims{"sub": "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.Header["kid"] != key.KeyID {
		t.Fatalf("token kid %v does not match JWKS kid %q", parsed.Header["kid"], key.KeyID)
	}
}
