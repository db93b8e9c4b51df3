package bom

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func line(needed string) Line {
	return Line{Ref: materials.Raw(uuid.New()), Code: "M", Name: "Material", QuantityNeeded: dec(needed)}
}

func TestAllocateConsumptionProportionalDebit(t *testing.T) {
	debits, err := AllocateConsumption([]Line{line("250")}, dec("100"), dec("40"))
	require.NoError(t, err)
	require.Len(t, debits, 1)
	assert.Equal(t, "100", debits[0].Quantity.String())
	assert.False(t, debits[0].Skip)
}

func TestAllocateConsumptionRejectsNonPositivePlan(t *testing.T) {
	for _, planned := range []string{"0", "-5"} {
		debits, err := AllocateConsumption([]Line{line("250")}, dec(planned), dec("40"))
		require.Error(t, err, planned)
		assert.Nil(t, debits)
		assert.True(t, errors.Is(err, ErrInvalidPlan))
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	}
}

func TestAllocateConsumptionRejectsNegativeProduced(t *testing.T) {
	_, err := AllocateConsumption([]Line{line("10")}, dec("10"), dec("-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProduction))
}

func TestAllocateConsumptionRoundsOnceHalfUp(t *testing.T) {
	tests := []struct {
		name     string
		needed   string
		planned  string
		produced string
		want     string
		exact    string
	}{
		{name: "thirds", needed: "100", planned: "3", produced: "1", want: "33.33"},
		{name: "half rounds up", needed: "0.01", planned: "2", produced: "1", want: "0.01", exact: "0.005"},
		{name: "two thirds", needed: "100", planned: "3", produced: "2", want: "66.67"},
		{name: "whole plan", needed: "12.5", planned: "7", produced: "7", want: "12.5", exact: "12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			debits, err := AllocateConsumption([]Line{line(tt.needed)}, dec(tt.planned), dec(tt.produced))
			require.NoError(t, err)
			assert.True(t, debits[0].Quantity.Equal(dec(tt.want)), "got %s want %s", debits[0].Quantity, tt.want)
			if tt.exact != "" {
				assert.True(t, debits[0].Exact.Equal(dec(tt.exact)), "exact %s", debits[0].Exact)
			}
		})
	}
}

func TestAllocateConsumptionSkipsLinesRoundingToZero(t *testing.T) {
	lines := []Line{line("0.001"), line("50")}
	debits, err := AllocateConsumption(lines, dec("100"), dec("1"))
	require.NoError(t, err)
	require.Len(t, debits, 2)

	assert.True(t, debits[0].Skip)
	assert.True(t, debits[0].Quantity.IsZero())
	assert.False(t, debits[1].Skip)
	assert.Equal(t, "0.5", debits[1].Quantity.String())
	assert.Equal(t, lines[1].Ref, debits[1].Ref)
}

func TestAllocateConsumptionZeroProducedSkipsEverything(t *testing.T) {
	debits, err := AllocateConsumption([]Line{line("10"), line("20")}, dec("5"), decimal.Zero)
	require.NoError(t, err)
	for _, d := range debits {
		assert.True(t, d.Skip)
	}
}

func TestAllocationsAcrossRunsSumToPlanTotal(t *testing.T) {
	l := line("500")
	total := decimal.Zero
	for _, produced := range []string{"100", "150", "250"} {
		q, err := ExpectedDebit(l, dec("500"), dec(produced))
		require.NoError(t, err)
		total = total.Add(q)
	}
	assert.True(t, total.Equal(dec("500")), total.String())
}
