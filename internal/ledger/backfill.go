package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is the minimal view of a movement the balance walk needs.
type Entry struct {
	ID       uuid.UUID
	Quantity decimal.Decimal
	At       time.Time
}

// Balance is the before/after pair assigned to one entry.
type Balance struct {
	ID     uuid.UUID
	Before decimal.Decimal
	After  decimal.Decimal
}

// BackfillBalances walks entries from newest to oldest starting at the current
// on-hand balance and returns the before/after of every entry, oldest first.
// Quantities are never changed; entries must already be in chronological order.
func BackfillBalances(entries []Entry, current decimal.Decimal) []Balance {
	out := make([]Balance, len(entries))
	after := current
	for i := len(entries) - 1; i >= 0; i-- {
		before := after.Sub(entries[i].Quantity)
		out[i] = Balance{ID: entries[i].ID, Before: before, After: after}
		after = before
	}
	return out
}

// InsertOrdered returns entries with e placed after every entry at or before
// e.At. The input slice is not modified.
func InsertOrdered(entries []Entry, e Entry) []Entry {
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].At.After(e.At)
	})
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, e)
	out = append(out, entries[idx:]...)
	return out
}

func balanceOf(balances []Balance, id uuid.UUID) (Balance, bool) {
	for _, b := range balances {
		if b.ID == id {
			return b, true
		}
	}
	return Balance{}, false
}
