/**
 * @description
 * HTTP router setup for the checkout payment-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the router settings that come from configuration.
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	// SubmitTimeout bounds how long a submit request waits on the payment queue.
	SubmitTimeout time.Duration
}

// NewRouter creates a new Chi router and registers checkout routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment service is healthy"))
	})

	// The session id is an unguessable capability; the browser navigates here
	// without an Authorization header.
	r.With(middleware.Timeout(60*time.Second)).Get("/checkout/sessions/{id}/redirect", h.handleRedirectPage)

	r.Group(func(r chi.Router) {
		r.Use(SupabaseAuthMiddleware(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/checkout/sessions", h.handleStartSession)
			r.Get("/checkout/sessions/{id}", h.handleGetSession)
			r.Post("/checkout/sessions/{id}/retry", h.handleRetry)
			r.Post("/checkout/sessions/{id}/manual", h.handleManualRequest)
			r.Get("/checkout/sessions/{id}/snapshot", h.handleGetSnapshot)
			r.Get("/checkout/queue", h.handleQueueStatus)
		})

		submitTimeout := cfg.SubmitTimeout
		if submitTimeout <= 0 {
			submitTimeout = 5 * time.Minute
		}
		r.With(middleware.Timeout(submitTimeout)).Post("/checkout/sessions/{id}/submit", h.handleSubmit)
	})

	return r
}
