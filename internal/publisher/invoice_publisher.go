package publisher

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/logger"
	"github.com/flexprice/invoicer/internal/pubsub"
	"github.com/flexprice/invoicer/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const EventInvoiceGenerated = "invoice.generated"

// InvoiceGeneratedEvent announces a newly generated invoice
type InvoiceGeneratedEvent struct {
	ID         string           `json:"id"`
	EventName  string           `json:"event_name"`
	AccountID  string           `json:"account_id"`
	InvoiceID  string           `json:"invoice_id"`
	TargetDate string           `json:"target_date"`
	Total      decimal.Decimal  `json:"total"`
	ItemCount  int              `json:"item_count"`
	Invoice    *invoice.Invoice `json:"invoice"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewInvoiceGeneratedEvent builds the event of inv. The event id is derived
// from the invoice id so a republished invoice carries the same id.
func NewInvoiceGeneratedEvent(inv *invoice.Invoice, now time.Time) *InvoiceGeneratedEvent {
	return &InvoiceGeneratedEvent{
		ID:         "evt_" + inv.ID,
		EventName:  EventInvoiceGenerated,
		AccountID:  inv.AccountID,
		InvoiceID:  inv.ID,
		TargetDate: types.FormatDate(inv.TargetDate),
		Total:      inv.Total(),
		ItemCount:  len(inv.Items),
		Invoice:    inv,
		Timestamp:  now,
	}
}

// InvoicePublisher publishes invoice events on the configured topic
type InvoicePublisher interface {
	PublishInvoice(ctx context.Context, event *InvoiceGeneratedEvent) error
}

type invoicePublisher struct {
	pubSub pubsub.Publisher
	topic  string
	logger *logger.Logger
}

func NewInvoicePublisher(pubSub pubsub.Publisher, cfg *config.Configuration, logger *logger.Logger) InvoicePublisher {
	return &invoicePublisher{
		pubSub: pubSub,
		topic:  cfg.Dispatcher.Topic,
		logger: logger,
	}
}

func (p *invoicePublisher) PublishInvoice(ctx context.Context, event *InvoiceGeneratedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode invoice event").
			WithReportableDetails(map[string]any{"invoice_id": event.InvoiceID}).
			Mark(ierr.ErrSystem)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("account_id", event.AccountID)
	msg.Metadata.Set("invoice_id", event.InvoiceID)
	msg.Metadata.Set("event_name", event.EventName)

	p.logger.Debugw("publishing invoice event",
		"event_id", event.ID,
		"account_id", event.AccountID,
		"invoice_id", event.InvoiceID,
		"topic", p.topic)

	if err := p.pubSub.Publish(ctx, p.topic, msg); err != nil {
		p.logger.Errorw("failed to publish invoice event",
			"error", err,
			"event_id", event.ID,
			"invoice_id", event.InvoiceID)
		return err
	}

	p.logger.Infow("published invoice event",
		"event_id", event.ID,
		"account_id", event.AccountID,
		"invoice_id", event.InvoiceID)
	return nil
}

// DecodeInvoiceGeneratedEvent reads the payload of a published message
func DecodeInvoiceGeneratedEvent(msg *message.Message) (*InvoiceGeneratedEvent, error) {
	var event InvoiceGeneratedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Malformed invoice event payload").
			WithReportableDetails(map[string]any{"message_uuid": msg.UUID}).
			Mark(ierr.ErrValidation)
	}
	return &event, nil
}
