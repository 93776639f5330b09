package billing

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// finalPaymentAttempt is the failed attempt after which the processor gives up
// and the members lose their seats.
const finalPaymentAttempt = 4

// HandlePaymentFailed moves the rows billed by a remote subscription along the
// dunning path: the first failure marks them past due, the final one makes
// them inactive and drops their remote ids.
func (s *Service) HandlePaymentFailed(ctx context.Context, remoteSubscriptionID string, attempt int64) error {
	return s.updateRemoteRows(ctx, remoteSubscriptionID, func(row *model.Subscription) bool {
		switch {
		case attempt >= finalPaymentAttempt && row.Status.Billable():
			row.Status = subscription.StatusInactive
			row.ClearRemote()
			return true
		case attempt >= 1 && row.Status == subscription.StatusActive:
			row.Status = subscription.StatusPastDue
			return true
		}
		return false
	})
}

// HandlePaymentSucceeded restores past due rows.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, remoteSubscriptionID string) error {
	return s.updateRemoteRows(ctx, remoteSubscriptionID, func(row *model.Subscription) bool {
		if row.Status != subscription.StatusPastDue {
			return false
		}
		row.Status = subscription.StatusActive
		return true
	})
}

func (s *Service) updateRemoteRows(ctx context.Context, remoteSubscriptionID string, apply func(*model.Subscription) bool) error {
	rows, err := s.subs.ListByRemoteSubscription(ctx, remoteSubscriptionID)
	if err != nil {
		return err
	}

	var errs error
	byProfile := lo.GroupBy(rows, func(row *model.Subscription) uint { return row.PaymentProfileID })
	for profileID, group := range byProfile {
		unlock, err := s.locker.Lock(ctx, profileLockKey(profileID))
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		for _, row := range group {
			fresh, err := s.subs.GetByClientID(ctx, row.ClientID)
			if err != nil {
				errs = errors.CombineErrors(errs, err)
				continue
			}
			if fresh.RemoteSubscriptionID() != remoteSubscriptionID {
				continue
			}
			from := fresh.Status
			if !apply(fresh) {
				continue
			}
			if err := s.subs.Save(ctx, fresh); err != nil {
				errs = errors.CombineErrors(errs, err)
				continue
			}
			s.logger.Infow("subscription status updated from payment event",
				"client_id", fresh.ClientID,
				"stripe_subscription_id", remoteSubscriptionID,
				"from", from,
				"to", fresh.Status)
		}
		unlock()
	}
	return errs
}
