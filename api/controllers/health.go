package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

const (
	envHeader    = "X-MfgLedger-Env"
	readyTimeout = 2 * time.Second
)

// Pinger is satisfied by the db and redis clients.
type Pinger interface {
	Ping(context.Context) error
}

// Dependency names one backing service checked by the readiness probe.
type Dependency struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports 503 with the failing names
// when any of them is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				failed[dep.Name] = err.Error()
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
