package bom

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

// QuantityScale is the number of decimal places persisted on ledger quantities.
const QuantityScale int32 = 2

var (
	// ErrInvalidPlan is returned when a plan's planned quantity cannot be used as
	// an allocation denominator.
	ErrInvalidPlan = errors.New("invalid production plan")
	// ErrInvalidProduction is returned for negative produced quantities.
	ErrInvalidProduction = errors.New("invalid produced quantity")
)

// MaterialDebit is the consumption of one snapshot line for a production run.
// Quantity is the positive amount to take out of stock, rounded once to
// QuantityScale. Skip is set when nothing should be posted for the line.
type MaterialDebit struct {
	Ref      materials.Ref
	Code     string
	Name     string
	Exact    decimal.Decimal
	Quantity decimal.Decimal
	Skip     bool
}

// RoundQuantity applies the ledger rounding policy: QuantityScale places, half
// away from zero.
func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// AllocateConsumption splits each line's quantity needed for the whole plan in
// proportion to produced/planned. The product is taken before the division so
// exact ratios stay exact, and rounding happens once per line.
func AllocateConsumption(lines []Line, planned, produced decimal.Decimal) ([]MaterialDebit, error) {
	if !planned.IsPositive() {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidPlan, fmt.Sprintf("planned quantity must be greater than zero, got %s", planned))
	}
	if produced.IsNegative() {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidProduction, fmt.Sprintf("produced quantity must not be negative, got %s", produced))
	}

	debits := make([]MaterialDebit, 0, len(lines))
	for _, line := range lines {
		exact := line.QuantityNeeded.Mul(produced).Div(planned)
		rounded := RoundQuantity(exact)
		debits = append(debits, MaterialDebit{
			Ref:      line.Ref,
			Code:     line.Code,
			Name:     line.Name,
			Exact:    exact,
			Quantity: rounded,
			Skip:     !rounded.IsPositive(),
		})
	}
	return debits, nil
}

// ExpectedDebit returns the rounded debit for a single line, used by
// reconciliation when only one pair is missing.
func ExpectedDebit(line Line, planned, produced decimal.Decimal) (decimal.Decimal, error) {
	debits, err := AllocateConsumption([]Line{line}, planned, produced)
	if err != nil {
		return decimal.Zero, err
	}
	return debits[0].Quantity, nil
}
