package production

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/mfg-ledger-backend/internal/bom"
	"github.com/angelmondragon/mfg-ledger-backend/internal/materials"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/db/models"
	"github.com/angelmondragon/mfg-ledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

// Write is one movement the command will post.
type Write struct {
	Material     materials.Ref
	MovementType enums.MovementType
	// Quantity is signed: positive for the finished credit, negative for debits.
	Quantity    decimal.Decimal
	Description string
	// Consume is the amount to draw from the matching reservation. Zero for the
	// finished credit.
	Consume decimal.Decimal
}

// Command is the full set of writes for one production event, planned before
// anything touches the store.
type Command struct {
	EventID  uuid.UUID
	PlanID   uuid.UUID
	ActorID  uuid.UUID
	Produced decimal.Decimal
	Credit   Write
	Debits   []Write
	Skipped  []bom.MaterialDebit

	ProducedAfter decimal.Decimal
	StatusAfter   enums.PlanStatus
	Completes     bool
}

// PlanCommand computes the writes for event against plan and its snapshot. It
// is pure.
func PlanCommand(plan models.ProductionPlan, event models.ProductionEvent, snapshot []bom.Line) (Command, error) {
	if event.PlanID != plan.ID {
		return Command{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("event %s belongs to plan %s, not %s", event.ID, event.PlanID, plan.ID))
	}
	if !event.QuantityProduced.IsPositive() {
		return Command{}, pkgerrors.Wrap(pkgerrors.CodeValidation, bom.ErrInvalidProduction, "produced quantity must be greater than zero")
	}
	if len(snapshot) == 0 {
		return Command{}, pkgerrors.Wrap(pkgerrors.CodeNotFound, bom.ErrSnapshotMissing, fmt.Sprintf("no bom snapshot for plan %s", plan.ID))
	}
	allocation, err := bom.AllocateConsumption(snapshot, plan.PlannedQuantity, event.QuantityProduced)
	if err != nil {
		return Command{}, err
	}

	produced := bom.RoundQuantity(event.QuantityProduced)
	cmd := Command{
		EventID:  event.ID,
		PlanID:   plan.ID,
		ActorID:  event.ActorID,
		Produced: produced,
		Credit: Write{
			Material:     materials.Finished(plan.ProductID),
			MovementType: enums.MovementTypeProduction,
			Quantity:     produced,
			Description:  fmt.Sprintf("production of %s units for plan %s", produced, plan.ID),
		},
	}
	for _, debit := range allocation {
		if debit.Skip {
			cmd.Skipped = append(cmd.Skipped, debit)
			continue
		}
		cmd.Debits = append(cmd.Debits, Write{
			Material:     debit.Ref,
			MovementType: enums.MovementTypeConsumption,
			Quantity:     debit.Quantity.Neg(),
			Description:  fmt.Sprintf("consumed %s of %s for plan %s", debit.Quantity, debit.Code, plan.ID),
			Consume:      debit.Quantity,
		})
	}

	cmd.ProducedAfter = plan.ProducedQuantity.Add(produced)
	cmd.StatusAfter = enums.PlanStatusInProgress
	if cmd.ProducedAfter.GreaterThanOrEqual(plan.PlannedQuantity) {
		cmd.StatusAfter = enums.PlanStatusCompleted
		cmd.Completes = plan.Status != enums.PlanStatusCompleted
	}
	return cmd, nil
}

// Writes returns the credit and every debit in lock order.
func (c Command) Writes() []Write {
	out := make([]Write, 0, len(c.Debits)+1)
	out = append(out, c.Credit)
	out = append(out, c.Debits...)
	sort.SliceStable(out, func(i, j int) bool { return materials.Less(out[i].Material, out[j].Material) })
	return out
}

// Expected returns the signed quantity the command posts for ref, if any.
func (c Command) Expected(ref materials.Ref) (Write, bool) {
	for _, w := range c.Writes() {
		if w.Material == ref {
			return w, true
		}
	}
	return Write{}, false
}
