package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/chainsettle/chainsettle-backend/api/responses"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	pkgerrors "github.com/chainsettle/chainsettle-backend/pkg/errors"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
)

// Pinger is the readiness contract for backing services.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ChainSettle-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing services. A nil pinger is treated as not
// configured and skipped.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, pubsubP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ChainSettle-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		for name, p := range map[string]Pinger{"db": dbP, "pubsub": pubsubP} {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" not ready"))
				return
			}
			checks[name] = "ok"
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
