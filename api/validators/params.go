package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

// ParseUUIDParam reads a chi URL parameter as a non-nil uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// ParseMaterialType reads the {type} URL parameter.
func ParseMaterialType(r *http.Request) (enums.MaterialType, error) {
	typ, err := enums.ParseMaterialType(strings.TrimSpace(chi.URLParam(r, "type")))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid material type").WithDetails(map[string]any{"field": "type"})
	}
	return typ, nil
}

// ParseMaterialRef reads the {type}/{id} URL parameters.
func ParseMaterialRef(r *http.Request) (materials.Ref, error) {
	typ, err := ParseMaterialType(r)
	if err != nil {
		return materials.Ref{}, err
	}
	id, err := ParseUUIDParam(r, "id")
	if err != nil {
		return materials.Ref{}, err
	}
	return materials.Ref{Type: typ, ID: id}, nil
}

// ResolveActor prefers an explicit body actor over the request header.
func ResolveActor(body string, fromHeader uuid.UUID) (uuid.UUID, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		if fromHeader == uuid.Nil {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required").WithDetails(map[string]any{"field": "actorId"})
		}
		return fromHeader, nil
	}
	id, err := uuid.Parse(body)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid actor id").WithDetails(map[string]any{"field": "actorId"})
	}
	return id, nil
}
