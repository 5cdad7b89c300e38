package service

import (
	"context"
	"sort"

	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/sourcegraph/conc/pool"
)

// GenerateInvoiceResult is the outcome of one request of a batch
type GenerateInvoiceResult struct {
	AccountID string
	// Invoice is nil when there was nothing to invoice or the generation failed
	Invoice *invoice.Invoice
	Err     error

	index int
}

// GenerateInvoices reconciles every account on its own goroutine, bounded by the
// configured number of dispatcher workers. A failing account does not stop the others.
func (s *invoiceGenerationService) GenerateInvoices(ctx context.Context, reqs []*GenerateInvoiceRequest) []*GenerateInvoiceResult {
	p := pool.NewWithResults[*GenerateInvoiceResult]().
		WithMaxGoroutines(max(1, s.Config.Dispatcher.Workers))

	for i, req := range reqs {
		i, req := i, req
		p.Go(func() *GenerateInvoiceResult {
			res := &GenerateInvoiceResult{index: i}
			if req != nil {
				res.AccountID = req.AccountID
			}
			res.Invoice, res.Err = s.GenerateInvoice(ctx, req)
			return res
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	s.Logger.Infow("generated invoice batch",
		"requests", len(reqs),
		"failed", failed)

	return results
}
