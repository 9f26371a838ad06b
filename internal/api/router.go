/**
 * @description
 * This file sets up the HTTP router for the service using the go-chi/chi
 * router. It defines the webhook and operational routes and applies middleware
 * for logging, panic recovery, timeouts and CORS.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "x-signature", "x-request-id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("DANFE service is healthy"))
	})
	r.Get("/stats", h.handleStats)

	r.Post("/webhook/whatsapp", h.handleWhatsAppWebhook)
	r.Post("/webhook/payments", h.handlePaymentWebhook)

	return r
}
