package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// InMemorySubscriptionStore implements billing.SubscriptionStore.
type InMemorySubscriptionStore struct {
	*InMemoryStore[*model.Subscription]

	mu        sync.Mutex
	saveFails int
	saveErr   error
	saves     int
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore(func(s *model.Subscription) *model.Subscription {
			out := *s
			return &out
		}),
	}
}

// FailSaves makes the next n calls to Save return err.
func (s *InMemorySubscriptionStore) FailSaves(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveFails = n
	s.saveErr = err
}

// Saves counts the successful calls to Save.
func (s *InMemorySubscriptionStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *InMemorySubscriptionStore) Create(_ context.Context, sub *model.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription is nil").Mark(ierr.ErrValidation)
	}
	s.InMemoryStore.mu.Lock()
	defer s.InMemoryStore.mu.Unlock()

	for _, existing := range s.items {
		if existing.ClientID == sub.ClientID {
			return ierr.NewErrorf("client %d already has a subscription", sub.ClientID).
				Mark(ierr.ErrConflict)
		}
	}
	if sub.ID == 0 {
		sub.ID = s.allocate()
	} else if sub.ID > s.nextID {
		s.nextID = sub.ID
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	s.put(sub.ID, sub)
	return nil
}

func (s *InMemorySubscriptionStore) Save(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	if s.saveFails > 0 {
		s.saveFails--
		err := s.saveErr
		s.mu.Unlock()
		return err
	}
	s.saves++
	s.mu.Unlock()

	s.InMemoryStore.mu.Lock()
	defer s.InMemoryStore.mu.Unlock()
	if _, ok := s.items[sub.ID]; !ok {
		return ierr.NewErrorf("subscription %d not found", sub.ID).
			Mark(ierr.ErrNotFound)
	}
	sub.UpdatedAt = time.Now().UTC()
	s.put(sub.ID, sub)
	return nil
}

func (s *InMemorySubscriptionStore) GetByClientID(_ context.Context, clientID uint) (*model.Subscription, error) {
	rows := s.List(func(row *model.Subscription) bool { return row.ClientID == clientID })
	if len(rows) == 0 {
		return nil, ierr.NewErrorf("subscription for client %d not found", clientID).
			Mark(ierr.ErrNotFound)
	}
	return rows[0], nil
}

func (s *InMemorySubscriptionStore) ListByPaymentProfile(_ context.Context, paymentProfileID uint, statuses ...subscription.Status) ([]*model.Subscription, error) {
	return s.List(func(row *model.Subscription) bool {
		return row.PaymentProfileID == paymentProfileID &&
			(len(statuses) == 0 || lo.Contains(statuses, row.Status))
	}), nil
}

func (s *InMemorySubscriptionStore) ListByClients(_ context.Context, clientIDs []uint, status subscription.Status) ([]*model.Subscription, error) {
	return s.List(func(row *model.Subscription) bool {
		return row.Status == status && lo.Contains(clientIDs, row.ClientID)
	}), nil
}

func (s *InMemorySubscriptionStore) ListByRemoteSubscription(_ context.Context, remoteSubscriptionID string) ([]*model.Subscription, error) {
	return s.List(func(row *model.Subscription) bool {
		return row.RemoteSubscriptionID() == remoteSubscriptionID
	}), nil
}

func (s *InMemorySubscriptionStore) ListByStatus(_ context.Context, status subscription.Status) ([]*model.Subscription, error) {
	return s.List(func(row *model.Subscription) bool { return row.Status == status }), nil
}

func (s *InMemorySubscriptionStore) ListDueCancellations(_ context.Context, now time.Time) ([]*model.Subscription, error) {
	return s.List(func(row *model.Subscription) bool {
		return row.Status == subscription.StatusCancellationRequested &&
			row.CancelsAt != nil && !row.CancelsAt.After(now)
	}), nil
}

func (s *InMemorySubscriptionStore) ListCancellingBetween(_ context.Context, from, to time.Time) ([]*model.Subscription, error) {
	return s.List(func(row *model.Subscription) bool {
		return row.Status == subscription.StatusCancellationRequested &&
			row.CancelsAt != nil && !row.CancelsAt.Before(from) && row.CancelsAt.Before(to)
	}), nil
}

func (s *InMemorySubscriptionStore) HasBillableSubscription(_ context.Context, clientID uint) (bool, error) {
	rows := s.List(func(row *model.Subscription) bool {
		return row.ClientID == clientID && row.Status.Billable()
	})
	return len(rows) > 0, nil
}
