package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/mfg-ledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/logger"
)

type contextKey string

const ctxActorID contextKey = "actor_id"

// ActorHeader carries the operator or system id a request acts on behalf of.
const ActorHeader = "X-Actor-Id"

// ActorIDFromContext returns the actor set by Actor, or uuid.Nil.
func ActorIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxActorID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func WithActorID(ctx context.Context, actorID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActorID, actorID)
}

// Actor reads the optional X-Actor-Id header. A malformed header is rejected;
// a missing one leaves the controllers to take the actor from the body.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(ActorHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			actorID, err := uuid.Parse(raw)
			if err != nil || actorID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+ActorHeader+" header"))
				return
			}
			ctx := WithActorID(r.Context(), actorID)
			if logg != nil {
				ctx = logg.WithActorID(ctx, actorID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
