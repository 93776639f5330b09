// Package billing maps household members onto remote subscription items and
// keeps the local subscription rows in step with them: household enrollment,
// plan changes, re-enrollment, cancellation and the scheduled sweeps.
package billing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"membership_backend/internal/gateway"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// SubscriptionStore persists subscription rows. GetByClientID returns an
// ErrNotFound marked error when the client has no row; Create returns an
// ErrConflict marked error when one already exists.
type SubscriptionStore interface {
	GetByClientID(ctx context.Context, clientID uint) (*model.Subscription, error)
	Create(ctx context.Context, sub *model.Subscription) error
	Save(ctx context.Context, sub *model.Subscription) error
	Delete(ctx context.Context, id uint) error

	ListByPaymentProfile(ctx context.Context, paymentProfileID uint, statuses ...subscription.Status) ([]*model.Subscription, error)
	ListByClients(ctx context.Context, clientIDs []uint, status subscription.Status) ([]*model.Subscription, error)
	ListByRemoteSubscription(ctx context.Context, remoteSubscriptionID string) ([]*model.Subscription, error)
	ListByStatus(ctx context.Context, status subscription.Status) ([]*model.Subscription, error)
	ListDueCancellations(ctx context.Context, now time.Time) ([]*model.Subscription, error)
	ListCancellingBetween(ctx context.Context, from, to time.Time) ([]*model.Subscription, error)
	HasBillableSubscription(ctx context.Context, clientID uint) (bool, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	ListMembers(ctx context.Context, addedBy uint) ([]*model.User, error)
	DeleteUser(ctx context.Context, id uint) error
	// DeleteContactInfo removes the user's addresses and phones.
	DeleteContactInfo(ctx context.Context, userID uint) error
}

type MembershipDirectory interface {
	GetMembership(ctx context.Context, id uint) (*model.Membership, error)
	ListActiveByDentist(ctx context.Context, dentistID uint) ([]*model.Membership, error)
}

type PaymentProfileDirectory interface {
	GetPaymentProfile(ctx context.Context, id uint) (*model.PaymentProfile, error)
	GetByPrimaryAccountHolder(ctx context.Context, userID uint) (*model.PaymentProfile, error)
	DeletePaymentProfile(ctx context.Context, id uint) error
}

type PenaltyLedger interface {
	AppendPenalty(ctx context.Context, penalty *model.Penalty) error
}

type ReconciliationLog interface {
	RecordIssue(ctx context.Context, issue *model.ReconciliationIssue) error
}

// Notifier delivers member notifications. Implementations must not block on
// delivery; failures are theirs to log.
type Notifier interface {
	Welcome(ctx context.Context, primary *model.User, household []*model.User)
	PenaltyCharged(ctx context.Context, holder, client *model.User, amount decimal.Decimal, currency string)
	SubscriptionCanceled(ctx context.Context, client *model.User, plan *model.Membership, cancelsAt time.Time)
	ReenrollmentFeeNotice(ctx context.Context, holder, client *model.User, cancelsAt time.Time, amount decimal.Decimal, currency string)
	RenewalNotice(ctx context.Context, holder, client *model.User, plan *model.Membership, renewsAt time.Time)
}

// Fee is the one-off charge for returning members.
type Fee struct {
	Amount   decimal.Decimal
	Currency string
}

// MinorUnits converts the fee to the processor's smallest currency unit.
func (f Fee) MinorUnits() int64 {
	return f.Amount.Shift(2).Round(0).IntPart()
}

type Params struct {
	Subscriptions   SubscriptionStore
	Users           UserDirectory
	Memberships     MembershipDirectory
	PaymentProfiles PaymentProfileDirectory
	Penalties       PenaltyLedger
	Reconciliations ReconciliationLog
	Notifier        Notifier
	Gateway         gateway.Gateway
	Locker          Locker
	Logger          *zap.SugaredLogger

	ReenrollmentFee Fee
	// JobConcurrency bounds the records a scheduled job works on at once.
	JobConcurrency int
	// Now defaults to time.Now in UTC.
	Now func() time.Time
	// SaveBackOff builds the retry policy for local saves that follow a
	// successful remote mutation.
	SaveBackOff func() backoff.BackOff
}

type Service struct {
	subs            SubscriptionStore
	users           UserDirectory
	plans           MembershipDirectory
	profiles        PaymentProfileDirectory
	penalties       PenaltyLedger
	reconciliations ReconciliationLog
	notifier        Notifier
	gateway         gateway.Gateway
	locker          Locker
	logger          *zap.SugaredLogger

	fee            Fee
	jobConcurrency int
	now            func() time.Time
	saveBackOff    func() backoff.BackOff
}

// NewService panics on missing collaborators so misconfiguration fails at
// startup rather than on the first request.
func NewService(p Params) *Service {
	if p.Subscriptions == nil || p.Users == nil || p.Memberships == nil || p.PaymentProfiles == nil {
		panic("billing: stores are required")
	}
	if p.Penalties == nil || p.Reconciliations == nil {
		panic("billing: penalty ledger and reconciliation log are required")
	}
	if p.Gateway == nil {
		panic("billing: gateway is required")
	}

	s := &Service{
		subs:            p.Subscriptions,
		users:           p.Users,
		plans:           p.Memberships,
		profiles:        p.PaymentProfiles,
		penalties:       p.Penalties,
		reconciliations: p.Reconciliations,
		notifier:        p.Notifier,
		gateway:         p.Gateway,
		locker:          p.Locker,
		logger:          p.Logger,
		fee:             p.ReenrollmentFee,
		jobConcurrency:  p.JobConcurrency,
		now:             p.Now,
		saveBackOff:     p.SaveBackOff,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.jobConcurrency <= 0 {
		s.jobConcurrency = 4
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.saveBackOff == nil {
		s.saveBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		}
	}
	if s.fee.Currency == "" {
		s.fee.Currency = "usd"
	}
	return s
}

type noopNotifier struct{}

func (noopNotifier) Welcome(context.Context, *model.User, []*model.User) {}
func (noopNotifier) PenaltyCharged(context.Context, *model.User, *model.User, decimal.Decimal, string) {
}
func (noopNotifier) SubscriptionCanceled(context.Context, *model.User, *model.Membership, time.Time) {
}
func (noopNotifier) ReenrollmentFeeNotice(context.Context, *model.User, *model.User, time.Time, decimal.Decimal, string) {
}
func (noopNotifier) RenewalNotice(context.Context, *model.User, *model.User, *model.Membership, time.Time) {
}
