// Package dispatcher drives invoice generation for one account at a time: it loads the
// account history, generates the next invoice, stores it and announces it.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/invoicer/internal/cache"
	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/idempotency"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/metrics"
	"github.com/flexprice/invoicer/internal/publisher"
	"github.com/flexprice/invoicer/internal/service"
	"github.com/flexprice/invoicer/internal/types"
	"golang.org/x/sync/singleflight"
)

// Request asks for the invoice of an account up to a target date
type Request struct {
	AccountID  string    `json:"account_id" validate:"required"`
	TargetDate time.Time `json:"target_date" validate:"required"`
	Currency   string    `json:"currency" validate:"required,len=3"`
	// DryRun generates without storing nor publishing
	DryRun bool `json:"dry_run"`
}

// Result is what one dispatch produced; Invoice is nil when there was nothing to invoice
type Result struct {
	Invoice   *invoice.Invoice
	Duplicate bool
	DryRun    bool
}

type Params struct {
	Config      *config.Configuration
	Logger      *logger.Logger
	Metrics     *metrics.InvoicingMetrics
	Service     service.InvoiceGenerationService
	BillingRepo billing.Repository
	InvoiceRepo invoice.Repository
	Publisher   publisher.InvoicePublisher
	Cache       cache.Cache
	Clock       func() time.Time
}

type Dispatcher struct {
	Params
	cfg   config.DispatcherConfig
	idGen *idempotency.Generator

	inflight singleflight.Group
	// accounts holds one *sync.Mutex per account id
	accounts sync.Map
}

func NewDispatcher(params Params) *Dispatcher {
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &Dispatcher{
		Params: params,
		cfg:    params.Config.Dispatcher,
		idGen:  idempotency.NewGenerator(),
	}
}

// Dispatch processes one request and is safe for concurrent use. Requests of one
// account run one at a time. Identical requests arriving while the first one runs,
// or within the dedup TTL after it, return its result without generating again.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	key := cache.GenerateKey(cache.PrefixGeneration, d.idGen.GenerateKey(idempotency.ScopeGeneration, map[string]interface{}{
		"account_id":  req.AccountID,
		"target_date": types.FormatDate(req.TargetDate),
		"currency":    req.Currency,
		"dry_run":     req.DryRun || d.cfg.DryRun,
	}))

	leader := false
	v, err, _ := d.inflight.Do(key, func() (interface{}, error) {
		leader = true
		return d.dispatchOnce(ctx, key, req)
	})
	if err != nil {
		return nil, err
	}
	if leader {
		return v.(*Result), nil
	}
	res := *v.(*Result)
	res.Duplicate = true
	return &res, nil
}

func (d *Dispatcher) dispatchOnce(ctx context.Context, key string, req Request) (*Result, error) {
	unlock := d.lockAccount(req.AccountID)
	defer unlock()

	if cached, ok := d.Cache.Get(ctx, key); ok {
		res := *cached.(*Result)
		res.Duplicate = true
		d.Logger.Debugw("duplicate generation request",
			"account_id", req.AccountID,
			"target_date", types.FormatDate(req.TargetDate))
		return &res, nil
	}

	res, err := d.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	d.Cache.Set(ctx, key, res, d.cfg.DedupTTL)
	return res, nil
}

// lockAccount holds the account's lock until the returned func is called
func (d *Dispatcher) lockAccount(accountID string) func() {
	v, _ := d.accounts.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	dryRun := req.DryRun || d.cfg.DryRun

	var events *billing.BillingEventSet
	var existing []*invoice.Invoice
	err := d.retry(ctx, "load account history", func() error {
		var err error
		if events, err = d.BillingRepo.GetBillingEvents(ctx, req.AccountID); err != nil {
			return err
		}
		existing, err = d.InvoiceRepo.ListByAccount(ctx, req.AccountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	inv, err := d.Service.GenerateInvoice(ctx, &service.GenerateInvoiceRequest{
		AccountID:        req.AccountID,
		Events:           events,
		ExistingInvoices: existing,
		TargetDate:       req.TargetDate,
		Currency:         req.Currency,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Invoice: inv, DryRun: dryRun}
	if inv == nil || dryRun {
		return res, nil
	}

	if err := d.retry(ctx, "store invoice", func() error {
		err := d.InvoiceRepo.Create(ctx, inv)
		// an earlier attempt may have stored it before failing
		if ierr.IsInvalidOperation(err) {
			return nil
		}
		return err
	}); err != nil {
		return nil, err
	}

	event := publisher.NewInvoiceGeneratedEvent(inv, d.Clock())
	err = d.retry(ctx, "publish invoice", func() error {
		return d.Publisher.PublishInvoice(ctx, event)
	})
	d.Metrics.ObservePublished(err == nil)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// retry runs op with exponential backoff until it succeeds, fails permanently,
// the elapsed time runs out or ctx is done
func (d *Dispatcher) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInitialInterval
	b.MaxElapsedTime = d.cfg.RetryMaxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		d.Logger.Warnw("retrying "+what,
			"attempt", attempt,
			"next_in", next,
			"error", err)
	})
}

func isPermanent(err error) bool {
	return ierr.IsPermanent(err) || ierr.IsNotFound(err)
}
