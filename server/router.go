package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the demo relying party.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/", a.handleIndex)
	r.Get("/login", a.handleLogin)
	r.Get("/cb", a.handleCallback)
	r.Post("/status", a.handleStatus)
	r.Post("/logout", a.handleLogout)

	return r
}
