package testutil

import (
	"context"
	"time"

	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/metrics"
	"github.com/flexprice/invoicer/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

// Stores holds the in-memory repositories
type Stores struct {
	BillingRepo *InMemoryBillingEventStore
	InvoiceRepo *InMemoryInvoiceStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	stores   Stores
	pubsub   *InMemoryPubSub
	logger   *logger.Logger
	config   *config.Configuration
	metrics  *metrics.InvoicingMetrics
	registry *prometheus.Registry
	now      time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	s.config = config.GetDefaultConfig()
	s.config.Dispatcher.RetryInitialInterval = time.Millisecond
	s.config.Dispatcher.RetryMaxElapsed = time.Second
	s.logger = logger.NewNopLogger()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2014, 1, 1, 10, 0, 0, 0, time.UTC)
	s.stores = Stores{
		BillingRepo: NewInMemoryBillingEventStore(),
		InvoiceRepo: NewInMemoryInvoiceStore(),
	}
	s.pubsub = NewInMemoryPubSub()
	// a fresh registry per test keeps counters independent
	s.registry = prometheus.NewRegistry()
	s.metrics = metrics.NewInvoicingMetrics(s.registry)
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.BillingRepo.Clear()
	s.stores.InvoiceRepo.Clear()
	s.pubsub.ClearMessages()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetPubSub() *InMemoryPubSub {
	return s.pubsub
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetMetrics() *metrics.InvoicingMetrics {
	return s.metrics
}

// GetNow returns the pinned test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}

// SetNow moves the pinned test time
func (s *BaseServiceTestSuite) SetNow(now time.Time) {
	s.now = now
}

// Clock reads the pinned test time, following later SetNow calls
func (s *BaseServiceTestSuite) Clock() func() time.Time {
	return func() time.Time { return s.now }
}
