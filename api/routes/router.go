package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geniolibre/publisher-backend/api/controllers"
	"github.com/geniolibre/publisher-backend/api/middleware"
	"github.com/geniolibre/publisher-backend/internal/publications"
	"github.com/geniolibre/publisher-backend/pkg/config"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	publicationsService publications.Service,
	readyChecks ...controllers.ReadyCheck,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyChecks...))
	})

	r.Route("/api/v1/publications", func(r chi.Router) {
		r.Post("/", controllers.PublicationCreate(publicationsService, logg))
		r.Route("/{publicationId}", func(r chi.Router) {
			r.Get("/", controllers.PublicationStatus(publicationsService, logg))
			r.Delete("/", controllers.PublicationDelete(publicationsService, logg))
			r.Post("/approve", controllers.PublicationApprove(publicationsService, logg))
			r.Post("/publish", controllers.PublicationPublish(publicationsService, logg))
			r.Post("/reconcile", controllers.PublicationReconcile(publicationsService, logg))
			r.Post("/schedule", controllers.PublicationSchedule(publicationsService, logg))
			r.Post("/cancel", controllers.PublicationCancel(publicationsService, logg))
		})
	})

	return r
}
