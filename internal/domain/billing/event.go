package billing

import (
	"time"
	_ "time/tzdata"

	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BillingEvent is an immutable fact describing a subscription state change effective at a timestamp
type BillingEvent struct {
	ID                string              `json:"id"`
	SubscriptionID    string              `json:"subscription_id" validate:"required"`
	BundleID          string              `json:"bundle_id"`
	PlanName          string              `json:"plan_name"`
	PhaseName         string              `json:"phase_name"`
	BillingPeriod     types.BillingPeriod `json:"billing_period" validate:"required"`
	FixedPrice        *decimal.Decimal    `json:"fixed_price,omitempty"`
	RecurringPrice    *decimal.Decimal    `json:"recurring_price,omitempty"`
	BillCycleDayLocal int                 `json:"bill_cycle_day_local" validate:"gte=1,lte=31"`
	EffectiveDate     time.Time           `json:"effective_date" validate:"required"`
	TimeZone          string              `json:"time_zone"`
	BillingMode       types.BillingMode   `json:"billing_mode" validate:"required"`
}

// Location resolves the event time zone, UTC when unset
func (e *BillingEvent) Location() (*time.Location, error) {
	if e.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Unknown time zone %q on billing event", e.TimeZone).
			WithReportableDetails(map[string]any{
				"subscription_id": e.SubscriptionID,
				"time_zone":       e.TimeZone,
			}).
			Mark(ierr.ErrValidation)
	}
	return loc, nil
}

// EffectiveLocalDate is the effective timestamp truncated to a date in the event's own time zone
func (e *BillingEvent) EffectiveLocalDate() (time.Time, error) {
	loc, err := e.Location()
	if err != nil {
		return time.Time{}, err
	}
	return types.ToDate(e.EffectiveDate, loc), nil
}

func (e *BillingEvent) Validate() error {
	if err := e.BillingPeriod.Validate(); err != nil {
		return err
	}
	if err := e.BillingMode.Validate(); err != nil {
		return err
	}
	if e.BillCycleDayLocal < 1 || e.BillCycleDayLocal > 31 {
		return ierr.NewError("invalid billing cycle day").
			WithHint("Billing cycle day must be between 1 and 31").
			WithReportableDetails(map[string]any{
				"subscription_id":      e.SubscriptionID,
				"bill_cycle_day_local": e.BillCycleDayLocal,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// BillingEventSet is the complete billing history of one account
type BillingEventSet struct {
	AccountID string          `json:"account_id"`
	Events    []*BillingEvent `json:"events"`
	// AccountAutoInvoiceOff disables invoicing for the whole account
	AccountAutoInvoiceOff bool `json:"account_auto_invoice_off"`
	// SubscriptionIDsWithAutoInvoiceOff lists subscriptions that must not be invoiced
	SubscriptionIDsWithAutoInvoiceOff []string `json:"subscription_ids_with_auto_invoice_off,omitempty"`
}

func (s *BillingEventSet) IsEmpty() bool {
	return s == nil || len(s.Events) == 0
}

func (s *BillingEventSet) IsSubscriptionAutoInvoiceOff(subscriptionID string) bool {
	return s != nil && lo.Contains(s.SubscriptionIDsWithAutoInvoiceOff, subscriptionID)
}

// BySubscription groups events per subscription keeping the order in which subscriptions first appear
func (s *BillingEventSet) BySubscription() ([]string, map[string][]*BillingEvent) {
	order := make([]string, 0)
	grouped := make(map[string][]*BillingEvent)
	if s == nil {
		return order, grouped
	}
	for _, e := range s.Events {
		if _, ok := grouped[e.SubscriptionID]; !ok {
			order = append(order, e.SubscriptionID)
		}
		grouped[e.SubscriptionID] = append(grouped[e.SubscriptionID], e)
	}
	return order, grouped
}
