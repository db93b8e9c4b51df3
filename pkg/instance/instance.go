// Package instance names the running process in logs and metrics.
package instance

import (
	"os"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/env"
)

// GetID returns the platform dyno name, then WORKER_ID, then the host name,
// falling back to fallback when none are set.
func GetID(fallback string) string {
	if id := env.First("", "DYNO", "WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
