package layers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nabachouhan/gatishakti3.0/internal/middleware"
)

// RouteOptions carries the write-route guards. A nil Verifier disables
// authentication; RateRPS <= 0 disables upload rate limiting.
type RouteOptions struct {
	Verifier  middleware.TokenVerifier
	RateRPS   float64
	RateBurst int
}

func SetupRoutes(h *Handler, opts RouteOptions) http.Handler {
	r := chi.NewRouter()

	limit := func(next http.Handler) http.Handler { return next }
	if opts.RateRPS > 0 {
		limit = middleware.RateLimitMiddleware(opts.RateRPS, opts.RateBurst)
	}

	r.Group(func(r chi.Router) {
		if opts.Verifier != nil {
			r.Use(middleware.AuthMiddleware(opts.Verifier))
		}
		r.With(limit).Post("/{department}/{layer}", h.CreateHandler)
		r.With(limit).Put("/{department}/{layer}", h.ReplaceHandler)
		r.With(limit).Put("/{department}/{layer}/data", h.ReplaceHandler)
		r.Put("/{department}/{layer}/metainfo", h.UpdateInfoHandler)
	})

	return r
}
