package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func authorizeForm(username, password string) url.Values {
	form := url.Values{}
	form.Set("client_id", testClientID)
	form.Set("redirect_uri", testRedirectURI)
	form.Set("response_type", "code")
	form.Set("scope", "openid profile")
	form.Set("state", "xyz-state")
	form.Set("username", username)
	form.Set("password", password)
	return form
}

func decodeOAuthError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestAuthorizeParameterChecks(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	handler := app.Routes()

	tests := []struct {
		name    string
		query   string
		status  int
		errCode string
	}{
		{
			name:    "missing client_id",
			query:   "redirect_uri=" + url.QueryEscape(testRedirectURI) + "&response_type=code",
			status:  http.StatusBadRequest,
			errCode: "invalid_request",
		},
		{
			name:    "missing redirect_uri",
			query:   "client_id=" + testClientID + "&response_type=code",
			status:  http.StatusBadRequest,
			errCode: "invalid_request",
		},
		{
			name:    "unknown client",
			query:   "client_id=nobody&redirect_uri=" + url.QueryEscape(testRedirectURI) + "&response_type=code",
			status:  http.StatusBadRequest,
			errCode: "invalid_client",
		},
		{
			name:    "unregistered redirect",
			query:   "client_id=" + testClientID + "&redirect_uri=" + url.QueryEscape("https://evil.example/cb") + "&response_type=code",
			status:  http.StatusBadRequest,
			errCode: "invalid_client",
		},
		{
			name:    "implicit flow rejected",
			query:   "client_id=" + testClientID + "&redirect_uri=" + url.QueryEscape(testRedirectURI) + "&response_type=token",
			status:  http.StatusBadRequest,
			errCode: "unsupported_response_type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/authorize?"+tc.query, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body.String())
			}
			if got := decodeOAuthError(t, rec); got != tc.errCode {
				t.Fatalf("error = %q, want %q", got, tc.errCode)
			}
		})
	}
}

func TestAuthorizeRendersLoginForm(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	handler := app.Routes()

	target := "/authorize?client_id=" + testClientID +
		"&redirect_uri=" + url.QueryEscape(testRedirectURI) +
		"&response_type=code&state=abc123&code_challenge=chl&code_challenge_method=S256"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`name="client_id" value="` + testClientID + `"`,
		`name="state" value="abc123"`,
		`name="code_challenge" value="chl"`,
		`name="code_challenge_method" value="S256"`,
		`name="username"`,
		`name="password"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("login page missing %q", want)
		}
	}
}

func TestAuthorizeWrongPassword(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	mustCreateUser(t, app, "alice", "P@ssw0rd1", "alice@example.com")
	handler := app.Routes()

	rec := postForm(t, handler, "/authorize", authorizeForm("alice", "not-the-password"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid username or password") {
		t.Fatalf("error message not re-rendered: %s", rec.Body.String())
	}
	// The form must come back so the user can retry without losing the request.
	if !strings.Contains(rec.Body.String(), `name="client_id"`) {
		t.Fatalf("login form dropped after failed attempt")
	}
}

func TestAuthorizeIssuesCode(t *testing.T) {
	app := newTestApp(t, newTestConfig())
	user := mustCreateUser(t, app, "alice", "P@ssw0rd1", "alice@example.com")
	handler := app.Routes()

	rec := postForm(t, handler, "/authorize", authorizeForm("alice", "P@ssw0rd1"))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (body %s)", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
	if p := rec.Header().Get("Pragma"); p != "no-cache" {
		t.Fatalf("Pragma = %q, want no-cache", p)
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testRedirectURI {
		t.Fatalf("redirect target = %q, want %q", got, testRedirectURI)
	}
	if loc.Query().Get("state") != "xyz-state" {
		t.Fatalf("state not echoed: %q", loc.Query().Get("state"))
	}

	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect: %s", loc)
	}
	rec2, err2 := app.Store.RedeemAuthCode(context.Background(), code)
	if err2 != nil || rec2 == nil {
		t.Fatalf("issued code not redeemable: %v", err2)
	}
	if rec2.UserID != user.UserID || rec2.ClientID != testClientID || rec2.Scope != "openid profile" {
		t.Fatalf("code record mismatch: %+v", rec2)
	}
}

func TestAuthorizeSelectionMode(t *testing.T) {
	cfg := newTestConfig()
	cfg.Login.SelectionMode = true
	cfg.Login.SelectionURL = "https://apps.example/select"
	app := newTestApp(t, cfg)
	user := mustCreateUser(t, app, "alice", "P@ssw0rd1", "alice@example.com")
	handler := app.Routes()

	form := authorizeForm("alice", "P@ssw0rd1")
	form.Set("code_challenge", "stored-challenge")
	form.Set("code_challenge_method", "S256")
	rec := postForm(t, handler, "/authorize", form)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (body %s)", rec.Code, rec.Body.String())
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if loc.Host != "apps.example" || loc.Path != "/select" {
		t.Fatalf("redirect target = %s, want selection url", loc)
	}
	sessionID := loc.Query().Get("session")
	if sessionID == "" {
		t.Fatalf("no session in selection redirect: %s", loc)
	}
	if loc.Query().Get("client_id") != testClientID || loc.Query().Get("state") != "xyz-state" {
		t.Fatalf("selection redirect missing request context: %s", loc)
	}

	// The parked session carries the full request, PKCE included.
	sess, err := app.Store.TakeLoginSession(context.Background(), sessionID)
	if err != nil || sess == nil {
		t.Fatalf("take login session: %v", err)
	}
	if sess.UserID != user.UserID || sess.CodeChallenge != "stored-challenge" || sess.CodeChallengeMethod != "S256" {
		t.Fatalf("session record mismatch: %+v", sess)
	}
}

func TestCompleteAuth(t *testing.T) {
	cfg := newTestConfig()
	cfg.Login.SelectionMode = true
	cfg.Login.SelectionURL = "https://apps.example/select"
	app := newTestApp(t, cfg)
	user := mustCreateUser(t, app, "alice", "P@ssw0rd1", "alice@example.com")
	handler := app.Routes()

	newSession := func(t *testing.T) string {
		t.Helper()
		id, err := app.Store.CreateLoginSession(context.Background(), LoginSession{
			UserID:      user.UserID,
			ClientID:    testClientID,
			RedirectURI: testRedirectURI,
			Scope:       "openid",
			State:       "st",
		})
		if err != nil {
			t.Fatalf("CreateLoginSession: %v", err)
		}
		return id
	}

	t.Run("issues code from session", func(t *testing.T) {
		id := newSession(t)
		req := httptest.NewRequest(http.MethodGet, "/complete-auth?session="+id, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302 (body %s)", rec.Code, rec.Body.String())
		}
		loc, _ := url.Parse(rec.Header().Get("Location"))
		code := loc.Query().Get("code")
		if code == "" || loc.Query().Get("state") != "st" {
			t.Fatalf("unexpected redirect: %s", loc)
		}
		crec, err := app.Store.RedeemAuthCode(context.Background(), code)
		if err != nil || crec == nil || crec.UserID != user.UserID {
			t.Fatalf("code not bound to session user: %+v, %v", crec, err)
		}
	})

	t.Run("session is single use", func(t *testing.T) {
		id := newSession(t)
		req := httptest.NewRequest(http.MethodGet, "/complete-auth?session="+id, nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/complete-auth?session="+id, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if got := decodeOAuthError(t, rec); got != "invalid_request" {
			t.Fatalf("error = %q, want invalid_request", got)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/complete-auth", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		stale := LoginSession{
			SessionID:   "stale-session",
			UserID:      user.UserID,
			ClientID:    testClientID,
			RedirectURI: testRedirectURI,
			ExpiresAt:   time.Now().Add(-time.Minute).Unix(),
		}
		if err := app.Store.backend.Put(context.Background(), app.Store.sessions, stale.SessionID, stale); err != nil {
			t.Fatalf("seed stale session: %v", err)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/complete-auth?session="+stale.SessionID, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
		}
	})

	t.Run("application fallback", func(t *testing.T) {
		if err := app.Store.PutApplication(context.Background(), &Application{
			ApplicationID: "app-1",
			ClientID:      testClientID,
			RedirectURL:   testRedirectURI,
			Name:          "First App",
		}); err != nil {
			t.Fatalf("PutApplication: %v", err)
		}
		id, err := app.Store.CreateLoginSession(context.Background(), LoginSession{
			UserID: user.UserID,
			Scope:  "openid",
		})
		if err != nil {
			t.Fatalf("CreateLoginSession: %v", err)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/complete-auth?session="+id+"&application_id=app-1&account=acct-9", nil))
		if rec.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302 (body %s)", rec.Code, rec.Body.String())
		}
		loc, _ := url.Parse(rec.Header().Get("Location"))
		crec, err := app.Store.RedeemAuthCode(context.Background(), loc.Query().Get("code"))
		if err != nil || crec == nil {
			t.Fatalf("redeem issued code: %v", err)
		}
		if crec.ClientID != testClientID || crec.RedirectURI != testRedirectURI {
			t.Fatalf("application fallback not applied: %+v", crec)
		}
		if crec.ApplicationID != "app-1" || crec.Account != "acct-9" {
			t.Fatalf("application context not carried onto code: %+v", crec)
		}
	})
}
