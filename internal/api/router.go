package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/finscan/internal/api/middleware"
	"github.com/kiranshivaraju/finscan/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil Auth or RateLimit leaves the corresponding check out. Empty
// CORSOrigins disables cross-origin access.
type Dependencies struct {
	Auth        *mw.Auth
	RateLimit   *mw.RateLimit
	CORSOrigins []string

	HealthHandler        http.HandlerFunc
	AnalyzeHandler       http.HandlerFunc
	AnalyzeSampleHandler http.HandlerFunc
	StatusHandler        http.HandlerFunc
	HistoryHandler       http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.CORSOrigins) > 0 {
		// Preflights are answered here, before auth and rate limiting.
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	// Public liveness and readiness
	r.Get("/", liveness)
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}

		r.Get("/status/{jobID}", orNotImplemented(deps.StatusHandler))
		r.Get("/history", orNotImplemented(deps.HistoryHandler))

		// Submissions start LLM work, so they are also rate limited.
		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Post("/analyze", orNotImplemented(deps.AnalyzeHandler))
			r.Post("/analyze/sample", orNotImplemented(deps.AnalyzeSampleHandler))
		})
	})

	return r
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, map[string]string{
		"status":  "ok",
		"service": "finscan",
	})
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
