package billing

import (
	"context"
	"sort"

	"github.com/samber/lo"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/gateway"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

type EnrollHouseholdRequest struct {
	PrimaryUserID uint `json:"primary_user_id" validate:"required"`
}

// EnsureHouseholdSubscription makes sure the primary account holder has their
// row, creating an inactive placeholder without a plan when missing.
func (s *Service) EnsureHouseholdSubscription(ctx context.Context, primary *model.User, profile *model.PaymentProfile) (*model.Subscription, error) {
	sub, err := s.subs.GetByClientID(ctx, primary.ID)
	if err == nil {
		return sub, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}
	if primary.DentistID == nil {
		return nil, ierr.NewErrorf("user %d has no dentist", primary.ID).
			Mark(ierr.ErrValidation)
	}

	sub = &model.Subscription{
		ClientID:         primary.ID,
		DentistID:        *primary.DentistID,
		PaymentProfileID: profile.ID,
		Status:           subscription.StatusInactive,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		if ierr.IsConflict(err) {
			return s.subs.GetByClientID(ctx, primary.ID)
		}
		return nil, err
	}
	return sub, nil
}

// EnrollHousehold bills every waiting member of a household in one go: one
// remote subscription per billing cycle, one item per plan. If the processor
// refuses, the signup is undone.
func (s *Service) EnrollHousehold(ctx context.Context, req EnrollHouseholdRequest) ([]*model.Subscription, error) {
	if req.PrimaryUserID == 0 {
		return nil, ierr.NewError("primary user is required").
			Mark(ierr.ErrValidation)
	}

	primary, err := s.users.GetUser(ctx, req.PrimaryUserID)
	if err != nil {
		return nil, err
	}
	if !primary.IsPrimaryAccountHolder() {
		return nil, ierr.NewErrorf("user %d is not a primary account holder", primary.ID).
			WithHint("Households are enrolled by the member who pays for them").
			Mark(ierr.ErrValidation)
	}
	if primary.DentistID == nil {
		return nil, ierr.NewErrorf("user %d has no dentist", primary.ID).
			Mark(ierr.ErrValidation)
	}
	profile, err := s.profiles.GetByPrimaryAccountHolder(ctx, primary.ID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, profileLockKey(profile.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Enrollment is the initial signup only. Its rollback removes the payment
	// profile, so a household that already holds a seat adds members through
	// Reenroll instead.
	seated, err := s.subs.ListByPaymentProfile(ctx, profile.ID,
		subscription.StatusActive, subscription.StatusPastDue, subscription.StatusCancellationRequested)
	if err != nil {
		return nil, err
	}
	if len(seated) > 0 {
		return nil, ierr.NewErrorf("household of user %d is already enrolled", primary.ID).
			WithHint("Add new members to an enrolled household with re-enrollment").
			Mark(ierr.ErrConflict)
	}

	if _, err := s.EnsureHouseholdSubscription(ctx, primary, profile); err != nil {
		return nil, err
	}

	ec, err := s.buildEnrollmentContext(ctx, primary, profile)
	if err != nil {
		return nil, err
	}

	created, err := s.createHouseholdSubscriptions(ctx, ec)
	if err != nil {
		s.logger.Errorw("household enrollment charge failed, rolling back signup",
			"primary_user_id", primary.ID,
			"payment_profile_id", profile.ID,
			"error", err)
		s.rollbackEnrollment(ctx, ec, created)
		return nil, err
	}

	now := s.now()
	for _, row := range ec.Enrolling {
		plan := ec.Plans[*row.MembershipID]
		pl, ok := findPlacement(created, plan.StripePlanID)
		if !ok {
			s.logger.Errorw("no created item carries the member's plan",
				"client_id", row.ClientID,
				"stripe_plan_id", plan.StripePlanID)
			s.recordIssue(ctx, "enroll_household", row.ClientID, profile.ID, "no remote item for plan "+plan.StripePlanID, row)
			continue
		}
		row.AssignRemote(pl.SubscriptionID, pl.ItemID, now)
		row.Status = subscription.StatusActive
		row.Membership = plan
		s.persist(ctx, "enroll_household", row)
	}

	s.logger.Infow("household enrolled",
		"primary_user_id", primary.ID,
		"members", len(ec.Enrolling),
		"remote_subscriptions", len(created))
	s.notifier.Welcome(ctx, primary, ec.Household)
	return ec.Enrolling, nil
}

func (s *Service) buildEnrollmentContext(ctx context.Context, primary *model.User, profile *model.PaymentProfile) (*EnrollmentContext, error) {
	members, err := s.users.ListMembers(ctx, primary.ID)
	if err != nil {
		return nil, err
	}
	household := append([]*model.User{primary}, members...)
	clientIDs := lo.Map(household, func(u *model.User, _ int) uint { return u.ID })

	rows, err := s.subs.ListByClients(ctx, clientIDs, subscription.StatusInactive)
	if err != nil {
		return nil, err
	}
	enrolling := lo.Filter(rows, func(row *model.Subscription, _ int) bool {
		return row.MembershipID != nil
	})
	if len(enrolling) == 0 {
		return nil, ierr.NewError("no household members are waiting to be enrolled").
			Mark(ierr.ErrValidation)
	}

	plans, err := s.plans.ListActiveByDentist(ctx, *primary.DentistID)
	if err != nil {
		return nil, err
	}
	index := lo.KeyBy(plans, func(plan *model.Membership) uint { return plan.ID })

	for _, row := range enrolling {
		if _, ok := index[*row.MembershipID]; !ok {
			return nil, ierr.NewErrorf("membership %d is not an active plan of dentist %d", *row.MembershipID, *primary.DentistID).
				Mark(ierr.ErrValidation)
		}
		if row.PaymentProfileID != profile.ID {
			return nil, ierr.NewErrorf("client %d is billed to another payment profile", row.ClientID).
				Mark(ierr.ErrValidation)
		}
	}

	return &EnrollmentContext{
		Primary:   primary,
		Profile:   profile,
		Household: household,
		Rows:      rows,
		Enrolling: enrolling,
		Plans:     index,
	}, nil
}

// buildLineItems groups the enrolling rows into one item list per billing
// cycle with quantity equal to the number of members on each plan.
func buildLineItems(rows []*model.Subscription, plans map[uint]*model.Membership) map[subscription.BillingCycle][]gateway.ItemQuantity {
	counts := lo.CountValuesBy(rows, func(row *model.Subscription) string {
		return plans[*row.MembershipID].StripePlanID
	})
	cycles := make(map[string]subscription.BillingCycle, len(counts))
	for _, row := range rows {
		plan := plans[*row.MembershipID]
		cycles[plan.StripePlanID] = plan.Cycle()
	}

	planIDs := lo.Keys(counts)
	sort.Strings(planIDs)

	groups := make(map[subscription.BillingCycle][]gateway.ItemQuantity)
	for _, planID := range planIDs {
		if counts[planID] == 0 {
			continue
		}
		cycle := cycles[planID]
		groups[cycle] = append(groups[cycle], gateway.ItemQuantity{PlanID: planID, Quantity: int64(counts[planID])})
	}
	return groups
}

// createHouseholdSubscriptions issues at most two calls, monthly first. It
// returns whatever was created before a failure.
func (s *Service) createHouseholdSubscriptions(ctx context.Context, ec *EnrollmentContext) ([]*gateway.Subscription, error) {
	groups := buildLineItems(ec.Enrolling, ec.Plans)

	var created []*gateway.Subscription
	for _, cycle := range []subscription.BillingCycle{subscription.CycleMonthly, subscription.CycleAnnual} {
		items := groups[cycle]
		if len(items) == 0 {
			continue
		}
		remote, err := s.gateway.CreateSubscription(ctx, ec.Profile.StripeCustomerID, items)
		if err != nil {
			return created, err
		}
		created = append(created, remote)
	}
	return created, nil
}

func findPlacement(created []*gateway.Subscription, planID string) (placement, bool) {
	for _, remote := range created {
		if item, ok := remote.ItemForPlan(planID); ok {
			return placement{SubscriptionID: remote.ID, ItemID: item.ID}, true
		}
	}
	return placement{}, false
}

// rollbackEnrollment undoes a signup whose charge failed. Remote
// subscriptions created before the failure are canceled as well so the
// household is not billed for a signup that no longer exists.
func (s *Service) rollbackEnrollment(ctx context.Context, ec *EnrollmentContext, created []*gateway.Subscription) {
	ctx = context.WithoutCancel(ctx)

	for _, remote := range created {
		if err := s.gateway.DeleteSubscription(ctx, remote.ID); err != nil {
			s.logger.Errorw("rollback could not cancel remote subscription",
				"stripe_subscription_id", remote.ID,
				"error", err)
			s.recordIssue(ctx, "enroll_household_rollback", ec.Primary.ID, ec.Profile.ID, err.Error(), remote)
		}
	}

	if err := s.users.DeleteContactInfo(ctx, ec.Primary.ID); err != nil {
		s.logger.Errorw("rollback could not delete contact info", "user_id", ec.Primary.ID, "error", err)
	}
	for _, row := range ec.Rows {
		if err := s.subs.Delete(ctx, row.ID); err != nil {
			s.logger.Errorw("rollback could not delete subscription", "client_id", row.ClientID, "error", err)
		}
	}
	if err := s.profiles.DeletePaymentProfile(ctx, ec.Profile.ID); err != nil {
		s.logger.Errorw("rollback could not delete payment profile", "payment_profile_id", ec.Profile.ID, "error", err)
	}
	for _, user := range ec.Household {
		billable, err := s.subs.HasBillableSubscription(ctx, user.ID)
		if err != nil {
			s.logger.Errorw("rollback could not check user subscriptions", "user_id", user.ID, "error", err)
			continue
		}
		if billable {
			continue
		}
		if err := s.users.DeleteUser(ctx, user.ID); err != nil {
			s.logger.Errorw("rollback could not delete user", "user_id", user.ID, "error", err)
		}
	}
}
