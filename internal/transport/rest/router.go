package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lingkarclub/access-engine/internal/domain"
	"github.com/lingkarclub/access-engine/internal/security"
)

type RouterDeps struct {
	Cache     domain.CacheRepository
	Handler   *Handler
	Verifier  security.AccessTokenVerifier
	JWTIssuer string

	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Cache == nil {
		panic("rest.NewRouter: nil cache")
	}
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	if d.RateLimitEnabled {
		r.Use(RateLimitMiddleware(d.Cache, d.RateLimitMax, d.RateLimitWindow))
	}
	r.Use(SecurityHeaders)

	authOpts := AuthOptions{ExpectedIssuer: d.JWTIssuer}

	r.Route("/api/v1", func(r chi.Router) {
		// Public views, redacted per layer for anonymous callers
		r.Group(func(r chi.Router) {
			r.Use(OptionalAuthMiddleware(d.Verifier, authOpts))

			r.Get("/drops/{dropID}", d.Handler.Drop)
			r.Get("/drops/{dropID}/gating", d.Handler.DropGating)
			r.Get("/gatherings/{gatheringID}", d.Handler.Gathering)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Verifier, authOpts))

			// pass writes
			r.Post("/passes", d.Handler.ClaimPass)
			r.Delete("/passes/{gatheringID}", d.Handler.CancelPass)

			// reads
			r.Get("/me/passes", d.Handler.MyPasses)

			r.Get("/gatherings/{gatheringID}/passes", d.Handler.GatheringPasses)
			r.Get("/gatherings/{gatheringID}/waitlist", d.Handler.GatheringWaitlist)
			r.Get("/gatherings/{gatheringID}/capacity", d.Handler.Capacity)

			// moderation
			r.Delete("/gatherings/{gatheringID}/passes/{userID}", d.Handler.RevokePass)
		})
	})

	return r
}
