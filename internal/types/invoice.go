package types

import (
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/samber/lo"
)

// InvoiceItemType is the kind of an invoice item
type InvoiceItemType string

const (
	// InvoiceItemTypeExternalCharge is a charge created outside of subscription billing
	InvoiceItemTypeExternalCharge InvoiceItemType = "EXTERNAL_CHARGE"
	// InvoiceItemTypeFixed is a one-time charge dated at a plan phase start
	InvoiceItemTypeFixed InvoiceItemType = "FIXED"
	// InvoiceItemTypeRecurring is a charge for a service period
	InvoiceItemTypeRecurring InvoiceItemType = "RECURRING"
	// InvoiceItemTypeRepairAdjustment reverses part of a previously billed recurring item
	InvoiceItemTypeRepairAdjustment InvoiceItemType = "REPAIR_ADJUSTMENT"
	// InvoiceItemTypeItemAdjustment is a manual adjustment against a single item
	InvoiceItemTypeItemAdjustment InvoiceItemType = "ITEM_ADJUSTMENT"
	// InvoiceItemTypeCreditAdjustment is an invoice level credit
	InvoiceItemTypeCreditAdjustment InvoiceItemType = "CREDIT_ADJUSTMENT"
	// InvoiceItemTypeCreditBalanceAdjustment moves amounts in or out of the account credit balance
	InvoiceItemTypeCreditBalanceAdjustment InvoiceItemType = "CREDIT_BALANCE_ADJUSTMENT"
	InvoiceItemTypeRefundAdjustment        InvoiceItemType = "REFUND_ADJUSTMENT"
)

// invoiceItemTypeOrder is the order items of the same start date appear in a subscription view
var invoiceItemTypeOrder = []InvoiceItemType{
	InvoiceItemTypeExternalCharge,
	InvoiceItemTypeFixed,
	InvoiceItemTypeRecurring,
	InvoiceItemTypeRepairAdjustment,
	InvoiceItemTypeItemAdjustment,
	InvoiceItemTypeCreditAdjustment,
	InvoiceItemTypeCreditBalanceAdjustment,
	InvoiceItemTypeRefundAdjustment,
}

func (t InvoiceItemType) String() string {
	return string(t)
}

func (t InvoiceItemType) Validate() error {
	if !lo.Contains(invoiceItemTypeOrder, t) {
		return ierr.NewError("invalid invoice item type").
			WithHint("Please provide a valid invoice item type").
			WithReportableDetails(map[string]any{
				"allowed":        invoiceItemTypeOrder,
				"provided_value": t,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Ordinal returns the sort rank of the type, -1 when unknown
func (t InvoiceItemType) Ordinal() int {
	return lo.IndexOf(invoiceItemTypeOrder, t)
}

// IsAccountLevel reports whether items of this type never take part in subscription reconciliation
func (t InvoiceItemType) IsAccountLevel() bool {
	return lo.Contains([]InvoiceItemType{
		InvoiceItemTypeExternalCharge,
		InvoiceItemTypeCreditAdjustment,
		InvoiceItemTypeCreditBalanceAdjustment,
		InvoiceItemTypeRefundAdjustment,
	}, t)
}
