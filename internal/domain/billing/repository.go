package billing

import (
	"context"
)

// Repository supplies the billing history of an account
type Repository interface {
	// GetBillingEvents returns every billing event of the account, ordered by effective date per subscription
	GetBillingEvents(ctx context.Context, accountID string) (*BillingEventSet, error)
}
