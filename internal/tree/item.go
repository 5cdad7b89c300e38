package tree

import (
	"time"

	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	"github.com/flexprice/invoicer/internal/idempotency"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Action tells whether an item bills (ADD) or reverses (CANCEL) its period
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionCancel Action = "CANCEL"
)

// Item is the tree's view of an invoice item. Amount is always a magnitude.
type Item struct {
	ID              string           `json:"id"`
	InvoiceID       string           `json:"invoice_id"`
	AccountID       string           `json:"account_id"`
	BundleID        string           `json:"bundle_id,omitempty"`
	SubscriptionID  string           `json:"subscription_id"`
	PlanName        string           `json:"plan_name,omitempty"`
	PhaseName       string           `json:"phase_name,omitempty"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	Amount          decimal.Decimal  `json:"amount"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	Currency        string           `json:"currency"`
	LinkedItemID    string           `json:"linked_item_id,omitempty"`
	CreatedAt       time.Time        `json:"-"`
	Action          Action           `json:"action"`
	targetInvoiceID string
}

func newItem(ii *invoice.InvoiceItem, targetInvoiceID string, action Action) *Item {
	return &Item{
		ID:              ii.ID,
		InvoiceID:       ii.InvoiceID,
		AccountID:       ii.AccountID,
		BundleID:        ii.BundleID,
		SubscriptionID:  ii.SubscriptionID,
		PlanName:        ii.PlanName,
		PhaseName:       ii.PhaseName,
		StartDate:       ii.StartDate,
		EndDate:         ii.End(),
		Amount:          ii.Amount.Abs(),
		Rate:            ii.Rate,
		Currency:        ii.Currency,
		LinkedItemID:    ii.LinkedItemID,
		CreatedAt:       ii.CreatedAt,
		Action:          action,
		targetInvoiceID: targetInvoiceID,
	}
}

// withAction copies the item. A CANCEL copy points at the item it reverses.
func (i *Item) withAction(action Action) *Item {
	c := *i
	c.Action = action
	if action == ActionCancel {
		c.LinkedItemID = i.ID
	}
	return &c
}

// isSameKind reports whether other bills the same thing under a different id
func (i *Item) isSameKind(other *Item) bool {
	return i.ID != other.ID &&
		i.SubscriptionID == other.SubscriptionID &&
		i.PlanName == other.PlanName &&
		i.PhaseName == other.PhaseName &&
		rateOf(i).Equal(rateOf(other))
}

func rateOf(i *Item) decimal.Decimal {
	if i.Rate == nil {
		return decimal.Zero
	}
	return *i.Rate
}

// ledgerID is the billed item whose ledger entry this item draws from
func (i *Item) ledgerID() string {
	if i.Action == ActionCancel {
		return i.LinkedItemID
	}
	return i.ID
}

// toInvoiceItem turns the item back into what gets written on an invoice
func (i *Item) toInvoiceItem() *invoice.InvoiceItem {
	ii := &invoice.InvoiceItem{
		ID:             i.ID,
		AccountID:      i.AccountID,
		BundleID:       i.BundleID,
		SubscriptionID: i.SubscriptionID,
		StartDate:      i.StartDate,
		EndDate:        lo.ToPtr(i.EndDate),
		Currency:       i.Currency,
		CreatedAt:      i.CreatedAt,
	}
	if i.Action == ActionAdd {
		ii.InvoiceID = i.InvoiceID
		ii.PlanName = i.PlanName
		ii.PhaseName = i.PhaseName
		ii.Type = types.InvoiceItemTypeRecurring
		ii.Amount = i.Amount
		ii.Rate = i.Rate
		return ii
	}
	ii.InvoiceID = i.targetInvoiceID
	ii.Type = types.InvoiceItemTypeRepairAdjustment
	ii.Amount = i.Amount.Neg()
	ii.LinkedItemID = i.LinkedItemID
	return ii
}

// slicer cuts [start, end) pieces out of items
type slicer struct {
	calc   *proration.Calculator
	idGen  *idempotency.Generator
	ledger *Ledger
}

// slice returns the [start, end) piece of item, repriced against the item's own day count.
// A CANCEL piece becomes a repair capped by what is left of the linked item in the ledger;
// nil means nothing is left to repair.
func (s *slicer) slice(item *Item, start, end time.Time) *Item {
	amount := item.Amount
	if !start.Equal(item.StartDate) || !end.Equal(item.EndDate) {
		amount = s.calc.ProrateAmount(item.Amount, item.StartDate, item.EndDate, start, end)
	}

	piece := *item
	piece.StartDate = start
	piece.EndDate = end
	if item.Action == ActionAdd {
		piece.Amount = amount
		return &piece
	}

	amount = decimal.Min(amount, s.ledger.NetAmount(item.ledgerID()))
	if !amount.IsPositive() {
		return nil
	}
	piece.Amount = amount
	piece.InvoiceID = item.targetInvoiceID
	piece.PlanName = ""
	piece.PhaseName = ""
	piece.Rate = nil
	piece.ID = s.idGen.GenerateKey(idempotency.ScopeRepairItem, map[string]interface{}{
		"invoice_id":     item.targetInvoiceID,
		"linked_item_id": item.ledgerID(),
		"start":          types.FormatDate(start),
		"end":            types.FormatDate(end),
		"amount":         amount.String(),
	})
	s.ledger.Repair(item.ledgerID(), amount)
	return &piece
}
