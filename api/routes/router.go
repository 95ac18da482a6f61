package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/wishspace-backend/api/controllers"
	"github.com/angelmondragon/wishspace-backend/api/middleware"
	"github.com/angelmondragon/wishspace-backend/internal/likes"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	"github.com/angelmondragon/wishspace-backend/pkg/config"
	"github.com/angelmondragon/wishspace-backend/pkg/db"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/angelmondragon/wishspace-backend/pkg/redis"
)

// Dependencies groups what the router hands to controllers. RedisPinger is nil
// when the relay is disabled.
type Dependencies struct {
	DB          db.Pinger
	RedisPinger redis.Pinger
	Registry    wishes.Registry
	Likes       likes.Coordinator
	OpenSession controllers.OpenSessionFunc
	Gatherer    prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.RedisPinger))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	streamOpts := controllers.StreamOptions{
		WriteTimeout:   cfg.Stream.WriteTimeout,
		PingInterval:   cfg.Stream.PingInterval,
		ReadLimit:      cfg.Stream.ReadLimit,
		AllowedOrigins: cfg.App.CORSOrigins,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/wishes", func(r chi.Router) {
			r.Get("/", controllers.WishList(deps.Registry, logg))
			r.Post("/", controllers.WishCreate(deps.Registry, logg))
			r.Get("/stream", controllers.WishStream(deps.OpenSession, streamOpts, logg))
			r.Get("/{wishId}", controllers.WishGet(deps.Registry, logg))
			r.Post("/{wishId}/like", controllers.WishLike(deps.Likes, logg))
			r.Get("/{wishId}/like", controllers.WishHasLiked(deps.Likes, logg))
		})
	})

	return r
}
