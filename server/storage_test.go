package server

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIssueAndRedeemAuthCode(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	ctx := context.Background()

	value, err := app.Store.IssueAuthCode(ctx, AuthorizationCode{
		UserID:      "u1",
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Scope:       "openid",
	})
	if err != nil {
		t.Fatalf("IssueAuthCode: %v", err)
	}
	if len(value) < 43 { // 32 bytes base64url
		t.Fatalf("code too short: %d chars", len(value))
	}

	code, err := app.Store.RedeemAuthCode(ctx, value)
	if err != nil {
		t.Fatalf("RedeemAuthCode: %v", err)
	}
	if code == nil || code.UserID != "u1" || code.ClientID != testClientID {
		t.Fatalf("unexpected code record: %+v", code)
	}
	if code.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("code expiry not in the future: %d", code.ExpiresAt)
	}

	if again, _ := app.Store.RedeemAuthCode(ctx, value); again != nil {
		t.Fatalf("code redeemed twice")
	}
}

func TestRedeemAuthCodeConcurrent(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	ctx := context.Background()

	value, err := app.Store.IssueAuthCode(ctx, AuthorizationCode{UserID: "u1", ClientID: testClientID})
	if err != nil {
		t.Fatalf("IssueAuthCode: %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if code, _ := app.Store.RedeemAuthCode(ctx, value); code != nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", won)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	ctx := context.Background()

	id, err := app.Store.IssueRefreshToken(ctx, "u1", testClientID, "openid email")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	rt, err := app.Store.GetRefreshToken(ctx, id)
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if rt == nil || rt.Scope != "openid email" || rt.ClientID != testClientID {
		t.Fatalf("unexpected refresh token: %+v", rt)
	}

	wantExpiry := time.Now().Add(30 * 24 * time.Hour).Unix()
	if rt.ExpiresAt < wantExpiry-60 || rt.ExpiresAt > wantExpiry+60 {
		t.Fatalf("refresh expiry not ~30 days out: %d", rt.ExpiresAt)
	}

	if err := app.Store.InvalidateRefreshToken(ctx, id); err != nil {
		t.Fatalf("InvalidateRefreshToken: %v", err)
	}
	if rt, _ := app.Store.GetRefreshToken(ctx, id); rt != nil {
		t.Fatalf("refresh token still present after invalidation")
	}
}

func TestLoginSessionSingleRead(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	ctx := context.Background()

	id, err := app.Store.CreateLoginSession(ctx, LoginSession{
		UserID:   "u1",
		ClientID: testClientID,
		Scope:    "openid",
	})
	if err != nil {
		t.Fatalf("CreateLoginSession: %v", err)
	}

	sess, err := app.Store.TakeLoginSession(ctx, id)
	if err != nil {
		t.Fatalf("TakeLoginSession: %v", err)
	}
	if sess == nil || sess.UserID != "u1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if again, _ := app.Store.TakeLoginSession(ctx, id); again != nil {
		t.Fatalf("session read twice")
	}
}
