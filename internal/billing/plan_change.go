package billing

import (
	"context"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

type ChangePlanRequest struct {
	ClientID     uint `json:"client_id" validate:"required"`
	MembershipID uint `json:"membership_id" validate:"required"`
}

// ChangePlan moves a billable member onto another plan: their seat is
// released from the current item and placed on the target plan.
func (s *Service) ChangePlan(ctx context.Context, req ChangePlanRequest) (*model.Subscription, error) {
	if req.ClientID == 0 || req.MembershipID == 0 {
		return nil, ierr.NewError("client and membership are required").
			Mark(ierr.ErrValidation)
	}

	sub, unlock, err := s.lockClientSubscription(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	client, err := s.users.GetUser(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	target, err := s.loadTargetPlan(ctx, sub, client, req.MembershipID)
	if err != nil {
		return nil, err
	}

	if !sub.Status.Billable() || !sub.HasRemote() || sub.MembershipID == nil {
		return nil, ierr.NewErrorf("subscription for client %d is not active", sub.ClientID).
			WithHint("Lapsed or canceled members re-enroll instead of changing plans").
			Mark(ierr.ErrConflict)
	}
	if *sub.MembershipID == target.ID {
		return nil, ierr.NewError("user already has an active subscription").
			WithHintf("Client %d is already on membership %d", sub.ClientID, target.ID).
			Mark(ierr.ErrConflict)
	}

	current, err := s.plans.GetMembership(ctx, *sub.MembershipID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.GetPaymentProfile(ctx, sub.PaymentProfileID)
	if err != nil {
		return nil, err
	}

	pc := &PlanChangeContext{
		Subscription: sub,
		Client:       client,
		Profile:      profile,
		Current:      current,
		Target:       target,
		Transition:   ClassifyTransition(current.Interval, target.Interval),
		History:      enrollmentHistoryOf(sub),
	}

	if _, err := s.releaseSeat(ctx, sub, current, false); err != nil {
		return nil, err
	}

	if err := s.assignSeat(ctx, "change_plan", pc); err != nil {
		return nil, err
	}

	s.logger.Infow("membership changed",
		"client_id", client.ID,
		"from_membership_id", current.ID,
		"to_membership_id", target.ID,
		"transition", pc.Transition.String(),
		"stripe_subscription_id", sub.RemoteSubscriptionID())
	return sub, nil
}

// assignSeat places the member on pc.Target and saves the row. A failed
// placement after the old seat is gone leaves the member without a seat; that
// state is recorded before the error is returned.
func (s *Service) assignSeat(ctx context.Context, op string, pc *PlanChangeContext) error {
	sub := pc.Subscription

	h, err := s.loadHousehold(ctx, pc.Profile.ID, pc.Client.ID)
	if err == nil {
		var pl placement
		pl, err = s.place(ctx, pc, h)
		if err == nil {
			sub.AssignRemote(pl.SubscriptionID, pl.ItemID, s.now())
			sub.MembershipID = &pc.Target.ID
			sub.Membership = pc.Target
			sub.Status = subscription.StatusActive
			sub.CancelsAt = nil
			sub.SeatReleasedAt = nil
			s.persist(ctx, op, sub)
			return nil
		}
	}

	if pc.Current != nil {
		s.logger.Errorw("seat released but placement on the new plan failed",
			"operation", op,
			"client_id", sub.ClientID,
			"target_membership_id", pc.Target.ID,
			"error", err)
		s.recordIssue(ctx, op, sub.ClientID, sub.PaymentProfileID, "seat released, placement failed: "+err.Error(), sub)
	}
	return err
}

// lockClientSubscription takes the household lock for the client's row and
// returns the row as read under that lock.
func (s *Service) lockClientSubscription(ctx context.Context, clientID uint) (*model.Subscription, func(), error) {
	sub, err := s.subs.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := s.locker.Lock(ctx, profileLockKey(sub.PaymentProfileID))
	if err != nil {
		return nil, nil, err
	}

	sub, err = s.subs.GetByClientID(ctx, clientID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return sub, unlock, nil
}

// loadTargetPlan checks the plan is one the member can be moved onto.
func (s *Service) loadTargetPlan(ctx context.Context, sub *model.Subscription, client *model.User, membershipID uint) (*model.Membership, error) {
	target, err := s.plans.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, ierr.NewErrorf("membership %d is no longer offered", target.ID).
			Mark(ierr.ErrValidation)
	}
	if target.UserID != sub.DentistID {
		return nil, ierr.NewErrorf("membership %d belongs to another dentist", target.ID).
			Mark(ierr.ErrValidation)
	}
	if group := client.AgeGroup(s.now()); target.AgeGroup != group {
		return nil, ierr.NewErrorf("membership %d is a %s plan", target.ID, target.AgeGroup).
			WithHintf("Client %d needs a %s plan", client.ID, group).
			Mark(ierr.ErrValidation)
	}
	if !target.Interval.Valid() {
		return nil, ierr.NewErrorf("membership %d has unknown interval %q", target.ID, target.Interval).
			Mark(ierr.ErrValidation)
	}
	return target, nil
}
