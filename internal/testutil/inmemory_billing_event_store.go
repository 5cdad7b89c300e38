package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/invoicer/internal/domain/billing"
	"github.com/flexprice/invoicer/internal/repository/memory"
)

// InMemoryBillingEventStore implements billing.Repository. Failures queued with
// FailNext are returned by the next calls, before any lookup.
type InMemoryBillingEventStore struct {
	*memory.BillingEventStore

	mu       sync.Mutex
	failures []error
	calls    int
}

func NewInMemoryBillingEventStore() *InMemoryBillingEventStore {
	return &InMemoryBillingEventStore{
		BillingEventStore: memory.NewBillingEventStore(),
	}
}

// FailNext makes the next len(errs) calls fail with errs, in order
func (s *InMemoryBillingEventStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Calls counts GetBillingEvents invocations, failed ones included
func (s *InMemoryBillingEventStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *InMemoryBillingEventStore) GetBillingEvents(ctx context.Context, accountID string) (*billing.BillingEventSet, error) {
	s.mu.Lock()
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.BillingEventStore.GetBillingEvents(ctx, accountID)
}

func (s *InMemoryBillingEventStore) Clear() {
	s.BillingEventStore.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
	s.calls = 0
}
