// Package http expone la superficie del core: mint, verify, pre-deploy
// check y rollback, más health y métricas.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter arma el router con middlewares de request-id y logging.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID, withLogging)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/mint", h.Mint)
		r.Post("/verify", h.Verify)
		r.Route("/deploy", func(r chi.Router) {
			r.Post("/check", h.PreDeployCheck)
			r.Post("/rollback", h.Rollback)
		})
	})

	return r
}

// Start levanta el server HTTP.
func Start(addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	return srv.ListenAndServe()
}
