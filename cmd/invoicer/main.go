package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/invoicer/internal/cache"
	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/dispatcher"
	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/metrics"
	"github.com/flexprice/invoicer/internal/publisher"
	"github.com/flexprice/invoicer/internal/pubsub"
	"github.com/flexprice/invoicer/internal/pubsub/memory"
	pubsubRouter "github.com/flexprice/invoicer/internal/pubsub/router"
	memoryRepo "github.com/flexprice/invoicer/internal/repository/memory"
	"github.com/flexprice/invoicer/internal/service"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/flexprice/invoicer/internal/validator"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// options are the command line flags
type options struct {
	Snapshot   string
	TargetDate time.Time
	Currency   string
	DryRun     bool
}

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	snapshot := flag.String("snapshot", "", "JSON file holding billing events and existing invoices")
	target := flag.String("target-date", types.FormatDate(time.Now()), "invoice every account up to this date (YYYY-MM-DD)")
	currency := flag.String("currency", "USD", "invoice currency")
	dryRun := flag.Bool("dry-run", false, "print the invoices without storing nor publishing them")
	flag.Parse()

	if *snapshot == "" {
		flag.Usage()
		os.Exit(2)
	}
	targetDate, err := types.ParseDate(*target)
	if err != nil {
		log.Fatalf("Invalid target date %q: %v", *target, err)
	}

	opts := options{
		Snapshot:   *snapshot,
		TargetDate: targetDate,
		Currency:   *currency,
		DryRun:     *dryRun,
	}

	app := fx.New(
		fx.Supply(opts),
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			provideRegisterer,
			metrics.NewInvoicingMetrics,

			// Storage
			provideStores,
			provideBillingRepository,
			provideInvoiceRepository,

			// Cache
			provideCache,

			// PubSub
			memory.NewPubSub,
			provideInvoicePublisher,
			providePubSubRouter,

			// Services
			service.NewServiceParams,
			service.NewInvoiceGenerationService,
			provideDispatcher,
		),
		fx.Invoke(run),
	)
	app.Run()
}

func provideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func provideStores(opts options) (*memoryRepo.BillingEventStore, *memoryRepo.InvoiceStore, error) {
	snapshot, err := memoryRepo.LoadSnapshot(opts.Snapshot)
	if err != nil {
		return nil, nil, err
	}

	events := memoryRepo.NewBillingEventStore()
	invoices := memoryRepo.NewInvoiceStore()
	if err := snapshot.Seed(context.Background(), events, invoices); err != nil {
		return nil, nil, err
	}
	return events, invoices, nil
}

func provideBillingRepository(store *memoryRepo.BillingEventStore) billing.Repository {
	return store
}

func provideInvoiceRepository(store *memoryRepo.InvoiceStore) invoice.Repository {
	return store
}

func provideCache(cfg *config.Configuration) cache.Cache {
	return cache.NewInMemoryCache(cfg.Dispatcher.DedupTTL)
}

func provideInvoicePublisher(ps pubsub.PubSub, cfg *config.Configuration, log *logger.Logger) publisher.InvoicePublisher {
	return publisher.NewInvoicePublisher(ps, cfg, log)
}

func providePubSubRouter(cfg *config.Configuration, log *logger.Logger, ps pubsub.PubSub) (*pubsubRouter.Router, error) {
	return pubsubRouter.NewRouter(cfg, log, ps)
}

func provideDispatcher(
	cfg *config.Configuration,
	log *logger.Logger,
	m *metrics.InvoicingMetrics,
	svc service.InvoiceGenerationService,
	billingRepo billing.Repository,
	invoiceRepo invoice.Repository,
	invoicePublisher publisher.InvoicePublisher,
	c cache.Cache,
) *dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.Params{
		Config:      cfg,
		Logger:      log,
		Metrics:     m,
		Service:     svc,
		BillingRepo: billingRepo,
		InvoiceRepo: invoiceRepo,
		Publisher:   invoicePublisher,
		Cache:       c,
	})
}

func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	opts options,
	cfg *config.Configuration,
	events *memoryRepo.BillingEventStore,
	d *dispatcher.Dispatcher,
	ps pubsub.PubSub,
	router *pubsubRouter.Router,
	log *logger.Logger,
) {
	requests := make([]dispatcher.Request, 0)
	for _, accountID := range events.AccountIDs() {
		requests = append(requests, dispatcher.Request{
			AccountID:  accountID,
			TargetDate: opts.TargetDate,
			Currency:   opts.Currency,
			DryRun:     opts.DryRun,
		})
	}

	if cfg.Consumer.Enabled {
		startMessageRouter(lc, router, d, ps, cfg, requests, log)
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				dispatchAll(d, requests, log)
				if err := shutdowner.Shutdown(); err != nil {
					log.Errorw("failed to shut down", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
}

// dispatchAll invoices the accounts one after the other and prints every invoice
func dispatchAll(d *dispatcher.Dispatcher, requests []dispatcher.Request, log *logger.Logger) {
	for _, req := range requests {
		res, err := d.Dispatch(context.Background(), req)
		if err != nil {
			log.Errorw("failed to invoice account", "account_id", req.AccountID, "error", err)
			continue
		}
		if res.Invoice == nil {
			log.Infow("nothing to invoice", "account_id", req.AccountID)
			continue
		}
		printJSON(res.Invoice, log)
	}
}

// startMessageRouter feeds the requests through the request topic and prints
// every invoice event until the process is stopped
func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	d *dispatcher.Dispatcher,
	ps pubsub.PubSub,
	cfg *config.Configuration,
	requests []dispatcher.Request,
	log *logger.Logger,
) {
	router.AddNoPublishHandler("generation_requests", cfg.Consumer.RequestTopic, ps, d.HandleRequest)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting message router")
			go func() {
				if err := router.Run(ctx); err != nil {
					log.Errorw("message router failed", "error", err)
				}
			}()

			generated, err := ps.Subscribe(ctx, cfg.Dispatcher.Topic)
			if err != nil {
				return err
			}
			go func() {
				for msg := range generated {
					if event, err := publisher.DecodeInvoiceGeneratedEvent(msg); err == nil {
						printJSON(event, log)
					}
					msg.Ack()
				}
			}()

			for _, req := range requests {
				payload, err := json.Marshal(req)
				if err != nil {
					return err
				}
				if err := ps.Publish(ctx, cfg.Consumer.RequestTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
					return err
				}
			}
			return nil
		},
		OnStop: func(context.Context) error {
			log.Info("stopping message router")
			cancel()
			if err := router.Close(); err != nil {
				return err
			}
			return ps.Close()
		},
	})
}

func printJSON(v interface{}, log *logger.Logger) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Errorw("failed to encode output", "error", err)
		return
	}
	fmt.Println(string(out))
}
