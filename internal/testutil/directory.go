package testutil

import (
	"context"
	"sync"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
)

// InMemoryUserStore implements billing.UserDirectory.
type InMemoryUserStore struct {
	*InMemoryStore[*model.User]

	mu             sync.Mutex
	contactDeletes []uint
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		InMemoryStore: NewInMemoryStore(func(u *model.User) *model.User {
			out := *u
			return &out
		}),
	}
}

// Add stores the user under its own id, allocating one when zero.
func (s *InMemoryUserStore) Add(user *model.User) *model.User {
	s.InMemoryStore.mu.Lock()
	defer s.InMemoryStore.mu.Unlock()
	if user.ID == 0 {
		user.ID = s.allocate()
	} else if user.ID > s.nextID {
		s.nextID = user.ID
	}
	s.put(user.ID, user)
	return user
}

func (s *InMemoryUserStore) GetUser(ctx context.Context, id uint) (*model.User, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryUserStore) ListMembers(_ context.Context, addedBy uint) ([]*model.User, error) {
	return s.List(func(u *model.User) bool {
		return u.AddedBy != nil && *u.AddedBy == addedBy
	}), nil
}

func (s *InMemoryUserStore) DeleteUser(ctx context.Context, id uint) error {
	return s.Delete(ctx, id)
}

func (s *InMemoryUserStore) DeleteContactInfo(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactDeletes = append(s.contactDeletes, userID)
	return nil
}

// ContactInfoDeleted lists the users whose addresses and phones were removed.
func (s *InMemoryUserStore) ContactInfoDeleted() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint(nil), s.contactDeletes...)
}

// InMemoryMembershipStore implements billing.MembershipDirectory.
type InMemoryMembershipStore struct {
	*InMemoryStore[*model.Membership]
}

func NewInMemoryMembershipStore() *InMemoryMembershipStore {
	return &InMemoryMembershipStore{
		InMemoryStore: NewInMemoryStore(func(m *model.Membership) *model.Membership {
			out := *m
			return &out
		}),
	}
}

func (s *InMemoryMembershipStore) Add(plan *model.Membership) *model.Membership {
	s.InMemoryStore.mu.Lock()
	defer s.InMemoryStore.mu.Unlock()
	if plan.ID == 0 {
		plan.ID = s.allocate()
	} else if plan.ID > s.nextID {
		s.nextID = plan.ID
	}
	s.put(plan.ID, plan)
	return plan
}

func (s *InMemoryMembershipStore) GetMembership(ctx context.Context, id uint) (*model.Membership, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryMembershipStore) ListActiveByDentist(_ context.Context, dentistID uint) ([]*model.Membership, error) {
	return s.List(func(m *model.Membership) bool {
		return m.Active && m.UserID == dentistID
	}), nil
}

// InMemoryPaymentProfileStore implements billing.PaymentProfileDirectory.
type InMemoryPaymentProfileStore struct {
	*InMemoryStore[*model.PaymentProfile]
}

func NewInMemoryPaymentProfileStore() *InMemoryPaymentProfileStore {
	return &InMemoryPaymentProfileStore{
		InMemoryStore: NewInMemoryStore(func(p *model.PaymentProfile) *model.PaymentProfile {
			out := *p
			return &out
		}),
	}
}

func (s *InMemoryPaymentProfileStore) Add(profile *model.PaymentProfile) *model.PaymentProfile {
	s.InMemoryStore.mu.Lock()
	defer s.InMemoryStore.mu.Unlock()
	if profile.ID == 0 {
		profile.ID = s.allocate()
	} else if profile.ID > s.nextID {
		s.nextID = profile.ID
	}
	s.put(profile.ID, profile)
	return profile
}

func (s *InMemoryPaymentProfileStore) GetPaymentProfile(ctx context.Context, id uint) (*model.PaymentProfile, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryPaymentProfileStore) GetByPrimaryAccountHolder(_ context.Context, userID uint) (*model.PaymentProfile, error) {
	profiles := s.List(func(p *model.PaymentProfile) bool { return p.PrimaryAccountHolderID == userID })
	if len(profiles) == 0 {
		return nil, ierr.NewErrorf("payment profile for user %d not found", userID).
			Mark(ierr.ErrNotFound)
	}
	return profiles[0], nil
}

func (s *InMemoryPaymentProfileStore) DeletePaymentProfile(ctx context.Context, id uint) error {
	return s.Delete(ctx, id)
}

// InMemoryLedger implements billing.PenaltyLedger and billing.ReconciliationLog.
type InMemoryLedger struct {
	mu        sync.Mutex
	penalties []*model.Penalty
	issues    []*model.ReconciliationIssue
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

func (l *InMemoryLedger) AppendPenalty(_ context.Context, penalty *model.Penalty) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	penalty.ID = uint(len(l.penalties) + 1)
	l.penalties = append(l.penalties, penalty)
	return nil
}

func (l *InMemoryLedger) RecordIssue(_ context.Context, issue *model.ReconciliationIssue) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	issue.ID = uint(len(l.issues) + 1)
	l.issues = append(l.issues, issue)
	return nil
}

func (l *InMemoryLedger) Penalties() []*model.Penalty {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.Penalty(nil), l.penalties...)
}

func (l *InMemoryLedger) Issues() []*model.ReconciliationIssue {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.ReconciliationIssue(nil), l.issues...)
}
