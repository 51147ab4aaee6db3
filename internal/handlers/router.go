package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"matchrelay/internal/config"
	localMiddleware "matchrelay/internal/middleware"
)

// RouterOptions allows customization of router setup for tests.
type RouterOptions struct {
	DisableRateLimiting  bool
	DisableRequestLogger bool
	CustomMiddleware     []func(http.Handler) http.Handler
}

// SetupRouter creates the application router with all routes and
// middleware. No request timeout is applied: upgraded websocket
// connections are long-lived by design.
func SetupRouter(h *Handler, cfg *config.ServerConfig, opts *RouterOptions) *chi.Mux {
	if opts == nil {
		opts = &RouterOptions{}
	}

	r := chi.NewRouter()

	if !opts.DisableRequestLogger {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(localMiddleware.RequestSizeLimiter(cfg.Server.MaxRequestSize))
	r.Use(localMiddleware.SecurityHeaders())

	if !opts.DisableRateLimiting {
		rateLimiter := localMiddleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst)
		r.Use(rateLimiter.Middleware())
	}
	for _, mw := range opts.CustomMiddleware {
		r.Use(mw)
	}

	r.Get("/", h.Home)

	// Websocket endpoints: the configured path plus the path legacy
	// deployments still dial.
	r.Get(cfg.Server.WebsocketPath, h.ServeWS)
	if cfg.Server.WebsocketPath != "/api/matchmaking" {
		r.Get("/api/matchmaking", h.ServeWS)
	}

	// Invite ids are standard base64 and may contain '/', so the id
	// travels as a query parameter instead of a path segment.
	r.Get("/invite", h.InviteQR)

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)

	return r
}
