package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"studyquiz/internal/answer"
	"studyquiz/internal/app/apiresp"
	"studyquiz/internal/app/observability"
	"studyquiz/internal/auth"
	"studyquiz/internal/generation"
	"studyquiz/internal/logger"
	"studyquiz/internal/question"
	"studyquiz/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps carries the runtime collaborators the router wires into handlers.
// Redis is optional; without it rate limits are kept in process.
type Deps struct {
	DB        *sql.DB
	Log       *logger.Logger
	Redis     redis.UniversalClient
	LLM       generation.Generator
	Collector *observability.Collector
}

func NewRouter(cfg Config, deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	collector := deps.Collector
	if collector == nil {
		collector = observability.NewCollector(deps.DB, log)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	authSvc := auth.NewService(deps.DB, auth.ServiceConfig{SessionTTL: cfg.SessionTTL()})
	authHandler := auth.NewHandler(authSvc, cfg.IsProduction())

	questionSvc := question.NewService(deps.DB, cfg.ReviewRecheckDays)
	questionHandler := question.NewHandler(questionSvc)

	answerHandler := answer.NewHandler(answer.NewService(deps.DB))
	reportHandler := report.NewHandler(report.NewService(deps.DB))

	genSvc := generation.NewService(deps.LLM, questionSvc, log, generation.WithRecorder(collector))
	genHandler := generation.NewHandler(genSvc)

	authLimiter := newRateLimiter(deps.Redis, "studyquiz:ratelimit:auth", cfg.RateLimit.AuthPerMinute, log)
	generateLimiter := newRateLimiter(deps.Redis, "studyquiz:ratelimit:generate", cfg.RateLimit.GeneratePerMinute, log)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB == nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.DB.PingContext(ctx); err != nil {
			apiresp.WriteErrorDetail(w, r, http.StatusServiceUnavailable, "database unavailable", err.Error())
			return
		}
		apiresp.WriteOK(w, http.StatusOK, map[string]interface{}{"db": "connected"})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(authLimiter))
			public.Post("/auth/register", authHandler.Register)
			public.Post("/auth/login", authHandler.Login)
		})

		api.Group(func(optional chi.Router) {
			optional.Use(authHandler.OptionalAuth)
			optional.Post("/auth/logout", authHandler.Logout)
			optional.Get("/auth/me", authHandler.Me)

			optional.Get("/questions", questionHandler.List)
			optional.Get("/questions/catalog", questionHandler.Catalog)
			optional.Get("/questions/export.xlsx", questionHandler.Export)

			optional.With(RateLimitMiddleware(generateLimiter)).Post("/generate", genHandler.Generate)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Post("/auth/profile", authHandler.UpdateProfile)
			secure.Get("/stats", reportHandler.Stats)
			secure.Post("/questions", questionHandler.Upsert)
			secure.Post("/questions/import.xlsx", questionHandler.Import)
			secure.Post("/questions/{id}/active", questionHandler.SetActive)
			secure.Post("/answers", answerHandler.Record)
		})
	})

	if cfg.Tracing.Exporter != "" {
		return otelhttp.NewHandler(r, "studyquiz.http")
	}
	return r
}

func newRateLimiter(rdb redis.UniversalClient, prefix string, perMinute int, log *logger.Logger) RateLimiter {
	if rdb != nil {
		return NewRedisRateLimiter(rdb, prefix, perMinute, time.Minute, log)
	}
	return NewIPRateLimiter(perMinute, time.Minute)
}
