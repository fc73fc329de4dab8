package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/iago/fitcoach-back/internal/http/handlers"
	"github.com/iago/fitcoach-back/internal/http/middleware"
	"github.com/rs/zerolog"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	JWTSecret      string
	JWTIssuer      string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Trace(deps.Logger), chimiddleware.Recoverer)

	r.Get("/healthz", deps.API.Health)
	r.Post("/internal/sweep", deps.API.Sweep)

	r.Route("/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(middleware.AuthConfig{JWTSecret: deps.JWTSecret, Issuer: deps.JWTIssuer}),
			middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst),
		)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", deps.API.SubmitJob)
			r.Get("/", deps.API.ListJobs)
			r.Get("/{jobID}", deps.API.JobStatus)
		})
	})

	return r
}
