package server

import (
	"html/template"
	"net/http"
	"net/url"
)

const defaultScope = "openid profile email"

// Minimal login surface. Hidden fields carry the authorization request
// through the credential round-trip.
const loginPageHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Sign In</title>
  <style>
    body { font-family: sans-serif; max-width: 400px; margin: 50px auto; padding: 20px; }
    form { background: #f5f5f5; padding: 20px; border-radius: 5px; }
    label { display: block; margin: 10px 0 5px; }
    input { width: 100%; padding: 8px; margin-bottom: 10px; }
    button { width: 100%; padding: 10px; }
    .error { color: red; margin-bottom: 10px; }
  </style>
</head>
<body>
  <h2>Sign In</h2>
  {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
  <form method="POST" action="/authorize">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="response_type" value="code">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <input type="hidden" name="state" value="{{.State}}">
    {{if .CodeChallenge}}<input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">{{end}}
    {{if .CodeChallengeMethod}}<input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">{{end}}
    <label for="username">Username</label>
    <input type="text" id="username" name="username" required>
    <label for="password">Password</label>
    <input type="password" id="password" name="password" required>
    <button type="submit">Sign In</button>
  </form>
</body>
</html>
`

var loginTmpl = template.Must(template.New("login").Parse(loginPageHTML))

type loginPageData struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Error               string
}

// handleAuthorize drives the authorization request state machine over
// GET/POST /authorize: parameter checks, client check, login surface,
// credential verification, and finally either direct code issuance or the
// selection-session detour.
func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, invalidRequest("Invalid form body"))
		return
	}

	clientID := r.Form.Get("client_id")
	redirectURI := r.Form.Get("redirect_uri")
	responseType := r.Form.Get("response_type")
	if clientID == "" || redirectURI == "" || responseType == "" {
		writeOAuthError(w, invalidRequest("Missing required parameters"))
		return
	}

	client, err := a.Registry.Validate(r.Context(), clientID, "", redirectURI)
	if err != nil {
		a.Logger.Error("client validation failed", "client_id", clientID, "error", err)
		writeOAuthError(w, err)
		return
	}
	if client == nil {
		writeOAuthError(w, &OAuthError{Code: "invalid_client", Description: "Invalid client_id or redirect_uri", Status: http.StatusBadRequest})
		return
	}

	if responseType != "code" {
		writeOAuthError(w, &OAuthError{Code: "unsupported_response_type", Description: "Only response_type=code is supported", Status: http.StatusBadRequest})
		return
	}

	scope := r.Form.Get("scope")
	if scope == "" {
		scope = defaultScope
	}
	page := loginPageData{
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
	}

	username := r.Form.Get("username")
	password := r.Form.Get("password")
	if r.Method == http.MethodGet || username == "" || password == "" {
		a.renderLogin(w, page, http.StatusOK)
		return
	}

	user, err := a.Credentials.VerifyPassword(r.Context(), username, password)
	if err != nil {
		a.Logger.Error("password verification failed", "error", err)
		writeOAuthError(w, err)
		return
	}
	if user == nil {
		page.Error = "Invalid username or password"
		a.renderLogin(w, page, http.StatusUnauthorized)
		return
	}

	if a.Config.Login.SelectionMode {
		a.startSelection(w, r, user, page)
		return
	}

	a.issueCodeAndRedirect(w, r, AuthorizationCode{
		UserID:              user.UserID,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       page.CodeChallenge,
		CodeChallengeMethod: page.CodeChallengeMethod,
	}, page.State)
}

// startSelection parks the verified request in a login session and sends
// the browser to the application-selection surface.
func (a *App) startSelection(w http.ResponseWriter, r *http.Request, user *User, page loginPageData) {
	sessionID, err := a.Store.CreateLoginSession(r.Context(), LoginSession{
		UserID:              user.UserID,
		ClientID:            page.ClientID,
		RedirectURI:         page.RedirectURI,
		Scope:               page.Scope,
		State:               page.State,
		CodeChallenge:       page.CodeChallenge,
		CodeChallengeMethod: page.CodeChallengeMethod,
	})
	if err != nil {
		a.Logger.Error("create login session", "error", err)
		writeOAuthError(w, err)
		return
	}

	target, err := url.Parse(a.Config.Login.SelectionURL)
	if err != nil {
		a.Logger.Error("bad selection_url", "error", err)
		writeOAuthError(w, err)
		return
	}
	q := target.Query()
	q.Set("session", sessionID)
	q.Set("client_id", page.ClientID)
	q.Set("redirect_uri", page.RedirectURI)
	if page.State != "" {
		q.Set("state", page.State)
	}
	target.RawQuery = q.Encode()

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleCompleteAuth finishes the selection variant: it consumes the login
// session, resolves the effective client/redirect through the
// request → session → application fallback chain, re-validates the client,
// and only then mints the code.
func (a *App) handleCompleteAuth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session")
	if sessionID == "" {
		writeOAuthError(w, invalidRequest("Missing session token"))
		return
	}

	sess, err := a.Store.TakeLoginSession(r.Context(), sessionID)
	if err != nil {
		a.Logger.Error("take login session", "error", err)
		writeOAuthError(w, err)
		return
	}
	if sess == nil {
		writeOAuthError(w, invalidRequest("Invalid or expired session"))
		return
	}
	if expired(sess.ExpiresAt) {
		writeOAuthError(w, invalidRequest("Session expired"))
		return
	}

	var app *Application
	if appID := q.Get("application_id"); appID != "" {
		if app, err = a.Store.GetApplication(r.Context(), appID); err != nil {
			a.Logger.Error("load application", "application_id", appID, "error", err)
			writeOAuthError(w, err)
			return
		}
	}

	clientID := fallback(q.Get("client_id"), sess.ClientID, appField(app, func(x *Application) string { return x.ClientID }))
	redirectURI := fallback(q.Get("redirect_uri"), sess.RedirectURI, appField(app, func(x *Application) string { return x.RedirectURL }))
	state := fallback(q.Get("state"), sess.State, "")
	if clientID == "" || redirectURI == "" {
		writeOAuthError(w, invalidRequest("Missing client_id or redirect_uri"))
		return
	}

	client, err := a.Registry.Validate(r.Context(), clientID, "", redirectURI)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	if client == nil {
		writeOAuthError(w, &OAuthError{Code: "invalid_client", Description: "Invalid client_id or redirect_uri", Status: http.StatusBadRequest})
		return
	}

	scope := sess.Scope
	if scope == "" {
		scope = defaultScope
	}
	code := AuthorizationCode{
		UserID:              sess.UserID,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       sess.CodeChallenge,
		CodeChallengeMethod: sess.CodeChallengeMethod,
		ApplicationID:       q.Get("application_id"),
		Account:             q.Get("account"),
	}
	a.issueCodeAndRedirect(w, r, code, state)
}

// issueCodeAndRedirect mints the bound code and 302s the relying party back
// to its redirect URI. Both flow variants end here with identical
// code/expiry/PKCE guarantees.
func (a *App) issueCodeAndRedirect(w http.ResponseWriter, r *http.Request, code AuthorizationCode, state string) {
	value, err := a.Store.IssueAuthCode(r.Context(), code)
	if err != nil {
		a.Logger.Error("issue authorization code", "client_id", code.ClientID, "error", err)
		writeOAuthError(w, err)
		return
	}

	target, err := url.Parse(code.RedirectURI)
	if err != nil {
		writeOAuthError(w, invalidRequest("Invalid redirect_uri"))
		return
	}
	q := target.Query()
	q.Set("code", value)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (a *App) renderLogin(w http.ResponseWriter, page loginPageData, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTmpl.Execute(w, page); err != nil {
		a.Logger.Error("render login page", "error", err)
	}
}

func fallback(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func appField(app *Application, get func(*Application) string) string {
	if app == nil {
		return ""
	}
	return get(app)
}
