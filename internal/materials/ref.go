package materials

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

// Ref points at one stocked entity in one of the three stock tables. Build it
// with Raw, Semi or Finished rather than by hand.
type Ref struct {
	Type enums.MaterialType `json:"type"`
	ID   uuid.UUID          `json:"id"`
}

func Raw(id uuid.UUID) Ref      { return Ref{Type: enums.MaterialTypeRaw, ID: id} }
func Semi(id uuid.UUID) Ref     { return Ref{Type: enums.MaterialTypeSemi, ID: id} }
func Finished(id uuid.UUID) Ref { return Ref{Type: enums.MaterialTypeFinished, ID: id} }

// NewRef validates a type/id pair coming from storage or the wire.
func NewRef(typ enums.MaterialType, id uuid.UUID) (Ref, error) {
	ref := Ref{Type: typ, ID: id}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// ParseRef accepts the "type:id" form produced by String.
func ParseRef(value string) (Ref, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return Ref{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid material reference %q", value))
	}
	parsedType, err := enums.ParseMaterialType(typ)
	if err != nil {
		return Ref{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid material type")
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return Ref{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid material id")
	}
	return Ref{Type: parsedType, ID: parsedID}, nil
}

func (r Ref) Validate() error {
	if !r.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown material type %q", r.Type))
	}
	if r.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "material id is required")
	}
	return nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// Less orders refs by type then id. Locks are always taken in this order.
func Less(a, b Ref) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID.String() < b.ID.String()
}

// SortRefs sorts refs in lock order.
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool { return Less(refs[i], refs[j]) })
}
