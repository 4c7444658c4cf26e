package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"vidgen/internal/http/handlers"
	"vidgen/internal/middleware"
)

// NewRouter wires every public, service and admin route. tokenAuth verifies
// bearer tokens; static, when non-nil, serves stored render outputs.
func NewRouter(app *handlers.App, tokenAuth *jwtauth.JWTAuth, static stdhttp.Handler) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins, 10*time.Minute),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	if static != nil {
		r.Handle("/static/*", stdhttp.StripPrefix("/static/", static))
	}

	r.With(middleware.SourceCountry(app.Config.WebhookAllowedCountries, app.Country, app.Config.TrustEdgeCountryHeaders)).
		Post("/webhooks/provider", app.ProviderWebhook)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth), middleware.Authenticate)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.With(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)).Post("/", app.CreateJob)
			r.Get("/{id}", app.GetJob)
		})

		r.With(middleware.RequireAudience(middleware.AudienceCompletion)).
			Post("/internal/bus/completions", app.CompletionPush)
		r.With(middleware.RequireAudience(middleware.AudienceWatchdog)).
			Post("/internal/watchdog/run", app.WatchdogRun)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/jobs/{id}/replay-webhook", app.ReplayWebhook)
			r.Get("/metrics/dashboard-24h", app.Dashboard24h)
		})
	})

	return r
}
