package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainsettle/chainsettle-backend/api/controllers"
	"github.com/chainsettle/chainsettle-backend/api/middleware"
	"github.com/chainsettle/chainsettle-backend/internal/audit"
	"github.com/chainsettle/chainsettle-backend/internal/exports"
	"github.com/chainsettle/chainsettle-backend/internal/ledger"
	"github.com/chainsettle/chainsettle-backend/internal/settlements"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
	"github.com/chainsettle/chainsettle-backend/pkg/pubsub"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	PubSub      *pubsub.Client
	Registry    *prometheus.Registry
	Settlements settlements.Service
	Ledger      ledger.Service
	Exports     exports.Service
	Audit       audit.Service
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.Actor(),
	)

	// A nil *pubsub.Client must stay a nil interface, otherwise the readiness
	// probe would ping through a nil pointer.
	var pubsubPinger controllers.Pinger
	if deps.PubSub != nil {
		pubsubPinger = deps.PubSub
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, pubsubPinger))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/settlements", func(r chi.Router) {
			r.Post("/", controllers.CreateSettlementIntent(deps.Settlements, logg))
			r.Get("/", controllers.ListSettlementIntents(deps.Settlements, logg))
			r.Get("/{intentID}", controllers.GetSettlementIntent(deps.Settlements, logg))
			r.Post("/{intentID}/reconcile", controllers.RunReconciliation(deps.Settlements, logg))

			r.Route("/{intentID}/events", func(r chi.Router) {
				r.Get("/", controllers.ListSettlementEvents(deps.Ledger, logg))
				r.Post("/", controllers.AppendSettlementEvent(deps.Ledger, logg))
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Put("/{eventID}", controllers.ReplaceSettlementEvent(deps.Ledger, logg))
			r.Delete("/{eventID}", controllers.DeleteSettlementEvent(deps.Ledger, logg))
		})

		r.Route("/exports", func(r chi.Router) {
			r.Post("/", controllers.EnqueueExportJobs(deps.Exports, logg))
			r.Get("/", controllers.ListPendingExportJobs(deps.Exports, logg))
			r.Post("/claim", controllers.ClaimExportJob(deps.Exports, logg))
			r.Get("/{jobID}", controllers.GetExportJob(deps.Exports, logg))
			r.Post("/{jobID}/success", controllers.MarkExportJobSucceeded(deps.Exports, logg))
			r.Post("/{jobID}/fail", controllers.MarkExportJobFailed(deps.Exports, logg))
		})

		r.Get("/audit/{entityID}", controllers.ListAuditEntries(deps.Audit, logg))
	})

	return r
}
