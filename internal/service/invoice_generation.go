package service

import (
	"context"
	"time"

	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/generator"
	"github.com/flexprice/invoicer/internal/idempotency"
	"github.com/flexprice/invoicer/internal/metrics"
	"github.com/flexprice/invoicer/internal/reconciler"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/flexprice/invoicer/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// InvoiceGenerationService builds the next invoice of an account from its billing history
type InvoiceGenerationService interface {
	// GenerateInvoice returns nil, nil when there is nothing to invoice
	GenerateInvoice(ctx context.Context, req *GenerateInvoiceRequest) (*invoice.Invoice, error)

	// GenerateInvoices runs many independent requests concurrently; results keep the request order
	GenerateInvoices(ctx context.Context, reqs []*GenerateInvoiceRequest) []*GenerateInvoiceResult
}

// GenerateInvoiceRequest is everything one generation reads. Nothing is loaded from storage.
type GenerateInvoiceRequest struct {
	AccountID        string                   `json:"account_id" validate:"required"`
	Events           *billing.BillingEventSet `json:"events"`
	ExistingInvoices []*invoice.Invoice       `json:"existing_invoices"`
	TargetDate       time.Time                `json:"target_date" validate:"required"`
	Currency         string                   `json:"currency" validate:"required,len=3"`
	// InvoiceID pins the id of the new invoice, a fresh one is generated when empty
	InvoiceID string `json:"invoice_id,omitempty"`
}

func (r *GenerateInvoiceRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Events != nil && r.Events.AccountID != "" && r.Events.AccountID != r.AccountID {
		return ierr.NewError("billing events belong to another account").
			WithHint("Billing events must belong to the invoiced account").
			WithReportableDetails(map[string]any{
				"account_id":        r.AccountID,
				"events_account_id": r.Events.AccountID,
			}).
			Mark(ierr.ErrValidation)
	}
	for _, inv := range r.ExistingInvoices {
		if inv.AccountID != r.AccountID {
			return ierr.NewError("existing invoice belongs to another account").
				WithHint("Existing invoices must belong to the invoiced account").
				WithReportableDetails(map[string]any{
					"account_id":         r.AccountID,
					"invoice_id":         inv.ID,
					"invoice_account_id": inv.AccountID,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

type invoiceGenerationService struct {
	ServiceParams
	generator  *generator.Generator
	reconciler *reconciler.AccountReconciler
	calc       *proration.Calculator
	idGen      *idempotency.Generator
}

func NewInvoiceGenerationService(params ServiceParams) InvoiceGenerationService {
	cfg := params.Config.Invoicing
	return &invoiceGenerationService{
		ServiceParams: params,
		generator:     generator.NewGenerator(cfg, params.Clock, params.Logger),
		reconciler:    reconciler.NewAccountReconciler(cfg, params.Logger),
		calc:          proration.NewCalculator(cfg),
		idGen:         idempotency.NewGenerator(),
	}
}

func (s *invoiceGenerationService) GenerateInvoice(ctx context.Context, req *GenerateInvoiceRequest) (*invoice.Invoice, error) {
	if req == nil {
		return nil, ierr.NewError("missing generation request").
			WithHint("A generation request is required").
			Mark(ierr.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invoice generation was cancelled").
			Mark(ierr.ErrSystem)
	}
	started := s.now()

	inv, outcome, err := s.generate(req)
	if err != nil {
		s.Metrics.ObserveFailure(err)
		s.Logger.Errorw("failed to generate invoice",
			"account_id", req.AccountID,
			"target_date", types.FormatDate(req.TargetDate),
			"hints", ierr.GetHints(err),
			"error", err)
		return nil, err
	}

	s.Metrics.ObserveGeneration(outcome, s.now().Sub(started))
	if inv == nil {
		s.Logger.Debugw("nothing to invoice",
			"account_id", req.AccountID,
			"target_date", types.FormatDate(req.TargetDate),
			"outcome", outcome)
		return nil, nil
	}

	repairs := len(inv.ItemsOfType(types.InvoiceItemTypeRepairAdjustment))
	s.Metrics.ObserveItems(string(types.InvoiceItemTypeRecurring), len(inv.ItemsOfType(types.InvoiceItemTypeRecurring)))
	s.Metrics.ObserveItems(string(types.InvoiceItemTypeFixed), len(inv.ItemsOfType(types.InvoiceItemTypeFixed)))
	s.Metrics.ObserveItems(string(types.InvoiceItemTypeRepairAdjustment), repairs)
	s.Metrics.ObserveItems(string(types.InvoiceItemTypeCreditBalanceAdjustment), len(inv.ItemsOfType(types.InvoiceItemTypeCreditBalanceAdjustment)))

	s.Logger.Infow("generated invoice",
		"account_id", inv.AccountID,
		"invoice_id", inv.ID,
		"target_date", types.FormatDate(inv.TargetDate),
		"items", len(inv.Items),
		"repairs", repairs,
		"total", inv.Total().String())

	return inv, nil
}

func (s *invoiceGenerationService) generate(req *GenerateInvoiceRequest) (*invoice.Invoice, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	events := req.Events
	if events.IsEmpty() || events.AccountAutoInvoiceOff {
		return nil, metrics.OutcomeSkipped, nil
	}

	if err := s.generator.ValidateTargetDate(req.TargetDate); err != nil {
		return nil, "", err
	}
	targetDate := adjustTargetDate(req.ExistingInvoices, req.TargetDate)

	invoiceID := lo.Ternary(req.InvoiceID == "", types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE), req.InvoiceID)

	proposed, err := s.generator.Generate(generator.GenerateParams{
		AccountID:  req.AccountID,
		InvoiceID:  invoiceID,
		Events:     events,
		TargetDate: targetDate,
		Currency:   req.Currency,
	})
	if err != nil {
		return nil, "", err
	}

	items, err := s.reconciler.Reconcile(reconciler.ReconcileParams{
		AccountID:               req.AccountID,
		InvoiceID:               invoiceID,
		ExistingInvoices:        req.ExistingInvoices,
		ProposedItems:           proposed,
		ExcludedSubscriptionIDs: events.SubscriptionIDsWithAutoInvoiceOff,
	})
	if err != nil {
		return nil, "", err
	}
	if len(items) == 0 {
		return nil, metrics.OutcomeEmpty, nil
	}

	today := types.ToDate(s.now(), time.UTC)
	inv := invoice.NewInvoice(invoiceID, req.AccountID, today, targetDate, req.Currency)
	inv.AddItems(items...)
	inv.AddItems(s.creditItems(inv, req.ExistingInvoices)...)
	return inv, metrics.OutcomeGenerated, nil
}

// adjustTargetDate never lets an invoice target a date earlier than one already invoiced
func adjustTargetDate(existing []*invoice.Invoice, targetDate time.Time) time.Time {
	return lo.Reduce(existing, func(latest time.Time, inv *invoice.Invoice, _ int) time.Time {
		return types.MaxDate(latest, inv.TargetDate)
	}, targetDate)
}

// creditItems moves a negative invoice balance into the account credit, or consumes
// unused account credit against a positive one
func (s *invoiceGenerationService) creditItems(inv *invoice.Invoice, existing []*invoice.Invoice) []*invoice.InvoiceItem {
	balance := inv.Total()
	if balance.IsNegative() {
		return []*invoice.InvoiceItem{s.newCreditItem(inv, balance.Neg())}
	}

	unused := lo.Reduce(existing, func(acc decimal.Decimal, e *invoice.Invoice, _ int) decimal.Decimal {
		return acc.Add(e.CreditBalance())
	}, decimal.Zero)
	if !unused.IsPositive() || !balance.IsPositive() {
		return nil
	}
	return []*invoice.InvoiceItem{s.newCreditItem(inv, decimal.Min(unused, balance).Neg())}
}

func (s *invoiceGenerationService) newCreditItem(inv *invoice.Invoice, amount decimal.Decimal) *invoice.InvoiceItem {
	item := &invoice.InvoiceItem{
		InvoiceID: inv.ID,
		AccountID: inv.AccountID,
		Type:      types.InvoiceItemTypeCreditBalanceAdjustment,
		StartDate: inv.InvoiceDate,
		Amount:    s.calc.Round(amount),
		Currency:  inv.Currency,
		CreatedAt: s.now(),
	}
	item.ID = s.idGen.GenerateKey(idempotency.ScopeCreditItem, map[string]interface{}{
		"invoice_id": inv.ID,
		"account_id": inv.AccountID,
		"amount":     item.Amount.String(),
	})
	return item
}
