package dispatcher

import (
	"github.com/ThreeDotsLabs/watermill/message"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/validator"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HandleRequest processes a generation request read from the request topic.
// Its signature fits router.AddNoPublishHandler.
func (d *Dispatcher) HandleRequest(msg *message.Message) error {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return ierr.WithError(err).
			WithHint("Malformed generation request").
			WithReportableDetails(map[string]any{"message_uuid": msg.UUID}).
			Mark(ierr.ErrValidation)
	}
	if err := validator.ValidateRequest(&req); err != nil {
		return err
	}

	res, err := d.Dispatch(msg.Context(), req)
	if err != nil {
		return err
	}

	if res.Invoice != nil {
		d.Logger.Infow("handled generation request",
			"message_uuid", msg.UUID,
			"account_id", req.AccountID,
			"invoice_id", res.Invoice.ID,
			"duplicate", res.Duplicate,
			"dry_run", res.DryRun)
	}
	return nil
}
