package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/mfg-ledger-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	defaultReplayTTL    = 24 * time.Hour
	productionReplayTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL = 2 * time.Minute
)

// replayRoute is a keyed POST. Patterns use path.Match syntax against the
// raw URL because the middleware runs before chi resolves the route.
type replayRoute struct {
	pattern  string
	ttl      time.Duration
	required bool
}

var replayRoutes = []replayRoute{
	{pattern: "/api/v1/plans/*/production", ttl: productionReplayTTL},
	{pattern: "/api/v1/materials/*/*/movements", required: true},
	{pattern: "/api/v1/materials/*"},
	{pattern: "/api/v1/plans"},
	{pattern: "/api/v1/orders/*/reservations"},
	{pattern: "/api/v1/reconciliation/runs"},
}

func lookupReplayRoute(method, urlPath string) (replayRoute, bool) {
	if method != http.MethodPost {
		return replayRoute{}, false
	}
	urlPath = strings.TrimSuffix(urlPath, "/")
	for _, route := range replayRoutes {
		if ok, _ := path.Match(route.pattern, urlPath); ok {
			return route, true
		}
	}
	return replayRoute{}, false
}

// storedResponse is what lives under a key: a pending marker while the first
// request runs, then the response it produced.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first response of a keyed write. The key is claimed
// with a pending marker before the handler runs, so a concurrent duplicate
// gets a conflict instead of a second execution. 5xx responses release the
// key.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := lookupReplayRoute(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				if route.required {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintRequest(r, body)
			key := store.IdempotencyKey(ActorIDFromContext(ctx).String()+"|"+r.URL.Path, clientKey)

			marker, _ := json.Marshal(storedResponse{Pending: true, Fingerprint: fingerprint})
			claimed, err := store.SetNX(ctx, key, string(marker), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(ctx, store, key, fingerprint, w, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			ttlFor := route.ttl
			if ttlFor <= 0 {
				ttlFor = ttl
			}
			finish(context.WithoutCancel(ctx), store, key, fingerprint, capture, ttlFor, logg)
		})
	}
}

func replay(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, pkgredis.Nil) {
		// Released between the claim attempt and now; the client may retry.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key released, retry the request"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request"))
	case stored.Pending:
		w.Header().Set("Retry-After", strconv.Itoa(int(inFlightTTL.Seconds())))
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func finish(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string, capture *responseCapture, ttl time.Duration, logg *logger.Logger) {
	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "release idempotency key", err)
		}
		return
	}
	payload, err := json.Marshal(storedResponse{
		Fingerprint: fingerprint,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = store.Set(ctx, key, string(payload), ttl)
	}
	if err != nil && logg != nil {
		logg.Error(logg.WithField(ctx, "status", status), "store idempotent response", err)
	}
}

// fingerprintRequest hashes the method and body. The path is already part of
// the key scope.
func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
