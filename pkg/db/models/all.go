package models

// All lists every model owned by the ledger schema, in dependency order. It backs
// sqlite auto-migration; postgres schemas come from the goose migrations.
func All() []any {
	return []any{
		&RawMaterial{},
		&SemiFinishedProduct{},
		&FinishedProduct{},
		&BOMLine{},
		&ProductionPlan{},
		&BOMSnapshotLine{},
		&ProductionEvent{},
		&StockMovement{},
		&MaterialReservation{},
		&ReconciliationReport{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
