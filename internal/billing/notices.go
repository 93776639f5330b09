package billing

import (
	"context"
	"time"

	"github.com/samber/lo"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// SendReenrollmentFeeNotices warns households whose member's cancellation
// takes effect leadDays from now that coming back later carries the
// re-enrollment fee.
func (s *Service) SendReenrollmentFeeNotices(ctx context.Context, now time.Time, leadDays int) (JobResult, error) {
	from, to := dayWindow(now, leadDays)
	rows, err := s.subs.ListCancellingBetween(ctx, from, to)
	if err != nil {
		return JobResult{}, err
	}

	return runBatch(ctx, s.logger, "reenrollment_fee_notice", s.jobConcurrency, rows, func(ctx context.Context, row *model.Subscription) error {
		if row.CancelsAt == nil || !s.fee.Amount.IsPositive() {
			return nil
		}
		holder, client, err := s.householdUsers(ctx, row)
		if err != nil {
			return err
		}
		if !holder.ReEnrollmentFeeWaiver {
			return nil
		}
		s.notifier.ReenrollmentFeeNotice(ctx, holder, client, *row.CancelsAt, s.fee.Amount, s.fee.Currency)
		return nil
	}), nil
}

// SendRenewalNotices tells households that an annual membership renews
// leadDays from now. Each remote subscription is fetched once.
func (s *Service) SendRenewalNotices(ctx context.Context, now time.Time, leadDays int) (JobResult, error) {
	rows, err := s.subs.ListByStatus(ctx, subscription.StatusActive)
	if err != nil {
		return JobResult{}, err
	}

	plans := make(map[uint]*model.Membership)
	var annual []*model.Subscription
	for _, row := range rows {
		if row.MembershipID == nil || !row.HasRemote() {
			continue
		}
		plan, ok := plans[*row.MembershipID]
		if !ok {
			plan, err = s.plans.GetMembership(ctx, *row.MembershipID)
			if err != nil {
				if ierr.IsNotFound(err) {
					continue
				}
				return JobResult{}, err
			}
			plans[plan.ID] = plan
		}
		if plan.Interval.IsAnnual() {
			annual = append(annual, row)
		}
	}

	byRemote := lo.GroupBy(annual, func(row *model.Subscription) string { return row.RemoteSubscriptionID() })
	from, to := dayWindow(now, leadDays)

	return runBatch(ctx, s.logger, "annual_renewal_notice", s.jobConcurrency, lo.Keys(byRemote), func(ctx context.Context, remoteID string) error {
		remote, err := s.gateway.GetSubscription(ctx, remoteID)
		if err != nil {
			return err
		}
		renewsAt := remote.CurrentPeriodEnd
		if renewsAt.Before(from) || !renewsAt.Before(to) {
			return nil
		}
		for _, row := range byRemote[remoteID] {
			holder, client, err := s.householdUsers(ctx, row)
			if err != nil {
				return err
			}
			s.notifier.RenewalNotice(ctx, holder, client, plans[*row.MembershipID], renewsAt)
		}
		return nil
	}), nil
}

func (s *Service) householdUsers(ctx context.Context, row *model.Subscription) (holder, client *model.User, err error) {
	profile, err := s.profiles.GetPaymentProfile(ctx, row.PaymentProfileID)
	if err != nil {
		return nil, nil, err
	}
	if holder, err = s.users.GetUser(ctx, profile.PrimaryAccountHolderID); err != nil {
		return nil, nil, err
	}
	if client, err = s.users.GetUser(ctx, row.ClientID); err != nil {
		return nil, nil, err
	}
	return holder, client, nil
}

// dayWindow returns the UTC calendar day that is leadDays after now.
func dayWindow(now time.Time, leadDays int) (time.Time, time.Time) {
	y, m, d := now.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, leadDays)
	return from, from.AddDate(0, 0, 1)
}
