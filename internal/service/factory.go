package service

import (
	"time"

	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/metrics"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	Metrics *metrics.InvoicingMetrics
	// Clock defaults to time.Now; tests pin it
	Clock func() time.Time

	// Repositories
	BillingRepo billing.Repository
	InvoiceRepo invoice.Repository
}

func (p ServiceParams) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock()
}

func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	metrics *metrics.InvoicingMetrics,
	billingRepo billing.Repository,
	invoiceRepo invoice.Repository,
) ServiceParams {
	return ServiceParams{
		Logger:      logger,
		Config:      config,
		Metrics:     metrics,
		BillingRepo: billingRepo,
		InvoiceRepo: invoiceRepo,
	}
}
