package materials

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

func TestParseRefRoundTripsString(t *testing.T) {
	ref := Semi(uuid.New())

	parsed, err := ParseRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
}

func TestParseRefRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "raw", "wood:" + uuid.NewString(), "raw:not-a-uuid"} {
		_, err := ParseRef(input)
		require.Error(t, err, input)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code(), input)
	}
}

func TestRefValidate(t *testing.T) {
	assert.NoError(t, Raw(uuid.New()).Validate())
	assert.Error(t, Raw(uuid.Nil).Validate())
	assert.Error(t, Ref{Type: "wood", ID: uuid.New()}.Validate())

	_, err := NewRef(enums.MaterialTypeFinished, uuid.Nil)
	assert.Error(t, err)
}

func TestSortRefsOrdersByTypeThenID(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	refs := []Ref{Semi(a), Raw(b), Finished(a), Raw(a)}

	SortRefs(refs)

	assert.Equal(t, []Ref{Finished(a), Raw(a), Raw(b), Semi(a)}, refs)
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	err := notFound(Raw(uuid.New()))
	assert.True(t, errors.Is(err, ErrMaterialNotFound))
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
