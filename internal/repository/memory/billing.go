package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/flexprice/invoicer/internal/domain/billing"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/samber/lo"
)

// BillingEventStore implements billing.Repository over a map of account histories
type BillingEventStore struct {
	mu   sync.RWMutex
	sets map[string]*billing.BillingEventSet
}

func NewBillingEventStore() *BillingEventStore {
	return &BillingEventStore{
		sets: make(map[string]*billing.BillingEventSet),
	}
}

// Put replaces the billing history of the set's account
func (s *BillingEventStore) Put(set *billing.BillingEventSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.AccountID] = set
}

func (s *BillingEventStore) GetBillingEvents(ctx context.Context, accountID string) (*billing.BillingEventSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[accountID]
	if !ok {
		return nil, ierr.NewErrorf("no billing events for account %s", accountID).
			WithReportableDetails(map[string]any{"account_id": accountID}).
			Mark(ierr.ErrNotFound)
	}
	return set, nil
}

// AccountIDs lists the accounts with a billing history, sorted
func (s *BillingEventStore) AccountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := lo.Keys(s.sets)
	sort.Strings(ids)
	return ids
}

func (s *BillingEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = make(map[string]*billing.BillingEventSet)
}
