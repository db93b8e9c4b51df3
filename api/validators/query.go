package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func invalidQuery(key, message string, cause error, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, message).WithDetails(details)
}

// ParseQueryInt reads an optional integer query parameter bounded by [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidQuery(key, "query parameter must be numeric", err, nil)
	}
	if value < min || value > max {
		return 0, invalidQuery(key, "query parameter out of range", nil, map[string]any{"min": min, "max": max})
	}
	return value, nil
}

// ParseQueryTime reads an optional RFC 3339 query parameter, normalised to UTC.
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, invalidQuery(key, "query parameter must be RFC 3339", err, nil)
	}
	ts = ts.UTC()
	return &ts, nil
}
