package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the binlogd job API.
//
// Route layout:
//
//	GET  /healthz                    – liveness probe (no authentication)
//	POST /api/v1/jobs                – submit a decode job (JWT required)
//	GET  /api/v1/jobs/{id}           – job status (JWT required)
//	GET  /api/v1/jobs/{id}/records   – paginated decoded records (JWT required)
//	GET  /ws/jobs/{id}                – progress WebSocket (JWT required)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// protected routes. Pass nil to disable JWT validation entirely (useful in
// tests that cover only request parsing and response formatting).
//
// wsHandler serves the WebSocket upgrade for a job's progress feed; pass nil
// to omit the /ws routes (e.g. when the caller has no broadcaster wired up).
func NewRouter(srv *Server, pubKey *rsa.PublicKey, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Post("/jobs", srv.handleSubmitJob)
		r.Get("/jobs/{id}", srv.handleGetJob)
		r.Get("/jobs/{id}/records", srv.handleGetJobRecords)
	})

	if wsHandler != nil {
		r.Route("/ws", func(r chi.Router) {
			if pubKey != nil {
				r.Use(JWTMiddleware(pubKey))
			}
			r.Get("/jobs/{id}", wsHandler.ServeHTTP)
		})
	}

	return r
}
