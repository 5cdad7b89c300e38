package tree

import (
	"github.com/shopspring/decimal"
)

// entry holds what is left of one billed item during a reconciliation pass
type entry struct {
	amount   decimal.Decimal
	adjusted decimal.Decimal
	repaired decimal.Decimal
}

// Ledger accumulates item adjustments and repairs per billed item id.
// Pieces of a split item share the entry of the item they were cut from,
// so repairs across pieces are capped together.
type Ledger struct {
	entries map[string]*entry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

func (l *Ledger) get(id string) *entry {
	e, ok := l.entries[id]
	if !ok {
		e = &entry{amount: decimal.Zero, adjusted: decimal.Zero, repaired: decimal.Zero}
		l.entries[id] = e
	}
	return e
}

// Register records the billed magnitude of an item; the first registration wins
func (l *Ledger) Register(id string, amount decimal.Decimal) {
	e := l.get(id)
	if e.amount.IsZero() {
		e.amount = amount.Abs()
	}
}

// Adjust adds an item adjustment against id
func (l *Ledger) Adjust(id string, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	e := l.get(id)
	e.adjusted = e.adjusted.Add(amount.Abs())
}

// Repair adds a repair against id
func (l *Ledger) Repair(id string, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	e := l.get(id)
	e.repaired = e.repaired.Add(amount.Abs())
}

func (l *Ledger) Adjusted(id string) decimal.Decimal {
	return l.get(id).adjusted
}

func (l *Ledger) Repaired(id string) decimal.Decimal {
	return l.get(id).repaired
}

// NetAmount is the part of the item still available for repair, never negative
func (l *Ledger) NetAmount(id string) decimal.Decimal {
	e := l.get(id)
	net := e.amount.Sub(e.adjusted).Sub(e.repaired)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// IsFullyAdjusted reports whether adjustments alone consumed the whole item
func (l *Ledger) IsFullyAdjusted(id string) bool {
	e := l.get(id)
	return e.amount.IsPositive() && e.adjusted.GreaterThanOrEqual(e.amount)
}
