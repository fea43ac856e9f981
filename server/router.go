package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all OAuth/OIDC endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(CORSMiddleware(a.Config.CORS))

	r.Get("/.well-known/openid-configuration", a.handleDiscovery)
	r.Get("/.well-known/jwks.json", a.handleJWKS)
	r.Get("/jwks.json", a.handleJWKS)

	r.Get("/authorize", a.handleAuthorize)
	r.Post("/authorize", a.handleAuthorize)
	r.Get("/complete-auth", a.handleCompleteAuth)

	r.Post("/token", a.handleToken)
	r.Get("/userinfo", a.handleUserInfo)

	r.Post("/users", a.handleCreateUser)
	r.Post("/users/reset-password", a.handleResetPassword)

	return r
}
