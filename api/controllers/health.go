package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/geniolibre/publisher-backend/api/responses"
	"github.com/geniolibre/publisher-backend/pkg/config"
	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
	"github.com/geniolibre/publisher-backend/pkg/logger"
)

const readyCheckTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck names one dependency the readiness probe verifies.
type ReadyCheck struct {
	Name   string
	Pinger pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Publisher-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Publisher-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		status := map[string]string{}
		failed := ""
		for _, check := range checks {
			if check.Pinger == nil {
				status[check.Name] = "skipped"
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				status[check.Name] = "down"
				failed = check.Name
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", check.Name), "readiness check failed", err)
				}
				continue
			}
			status[check.Name] = "ok"
		}

		if failed != "" {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").
				WithDetails(status)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": status})
	}
}
