package server

import (
	"net/http"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lizhe2004/openai-xunjie-tts/internal/config"
	"github.com/lizhe2004/openai-xunjie-tts/internal/observe"
)

const corsMaxAgeSeconds = 300

// NewRouter builds the HTTP routing table. Every endpoint is registered both
// under /v1 and at the root, matching how OpenAI clients and plain curl users
// address the service. The expanded listing endpoints are mounted only when
// enabled in the configuration.
func NewRouter(
	cfg *config.Config,
	h *Handler,
	metrics *observe.Metrics,
	log *logger.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(observe.Middleware(metrics, log))

	if len(cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           corsMaxAgeSeconds,
		}))
	}

	r.Post("/v1/audio/speech", h.Speech)
	r.Post("/audio/speech", h.Speech)

	r.Get("/health", h.Health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if cfg.Server.ExpandAPI {
		r.Get("/v1/models", h.Models)
		r.Post("/v1/models", h.Models)
		r.Get("/models", h.Models)
		r.Post("/models", h.Models)

		r.Get("/v1/voices", h.Voices)
		r.Post("/v1/voices", h.Voices)
		r.Get("/voices", h.Voices)
		r.Post("/voices", h.Voices)

		r.Get("/v1/voices/all", h.VoicesAll)
		r.Post("/v1/voices/all", h.VoicesAll)
		r.Get("/voices/all", h.VoicesAll)
		r.Post("/voices/all", h.VoicesAll)
	}

	return r
}
