package invoice

import (
	"context"
)

// Repository defines the invoice persistence operations the generator relies on
type Repository interface {
	// ListByAccount returns every invoice of the account, oldest first
	ListByAccount(ctx context.Context, accountID string) ([]*Invoice, error)

	// Create persists a newly generated invoice
	Create(ctx context.Context, invoice *Invoice) error
}
