package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires every endpoint. The /api/paypal and /paypal-* paths are the
// ones the storefront pages already call.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverPanic, requestLog, noCache)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/config", h.Config).Methods("GET")
	r.HandleFunc("/prices", h.Prices).Methods("GET")
	r.HandleFunc("/agreement", h.Agreement).Methods("POST")
	r.HandleFunc("/complete", h.Complete).Methods("POST")
	r.HandleFunc("/ipn", h.Notify).Methods("POST")
	r.HandleFunc("/accounts/{username}/payments", h.History).Methods("GET")

	r.HandleFunc("/api/paypal/config", h.Config).Methods("GET")
	r.HandleFunc("/api/paypal/prices", h.Prices).Methods("GET")
	r.HandleFunc("/paypal-complete", h.Complete).Methods("POST")
	r.HandleFunc("/paypal-ipn", h.Notify).Methods("POST")

	return r
}
