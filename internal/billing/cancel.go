package billing

import (
	"context"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

type CancelRequest struct {
	ClientID    uint `json:"client_id" validate:"required"`
	RequesterID uint `json:"requester_id" validate:"required"`
}

// CancelSubscription releases the member's seat now and schedules the local
// row to end with the remote billing period.
func (s *Service) CancelSubscription(ctx context.Context, req CancelRequest) (*model.Subscription, error) {
	if req.ClientID == 0 || req.RequesterID == 0 {
		return nil, ierr.NewError("client and requester are required").
			Mark(ierr.ErrValidation)
	}

	sub, unlock, err := s.lockClientSubscription(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	profile, err := s.profiles.GetPaymentProfile(ctx, sub.PaymentProfileID)
	if err != nil {
		return nil, err
	}
	if err := authorizeRequester(sub, profile, req.RequesterID); err != nil {
		return nil, err
	}

	switch sub.Status {
	case subscription.StatusCanceled:
		return nil, ierr.NewError("subscription is already canceled").
			Mark(ierr.ErrConflict)
	case subscription.StatusCancellationRequested:
		return nil, ierr.NewError("cancellation has already been requested").
			Mark(ierr.ErrConflict)
	}
	if !sub.Status.Billable() || !sub.HasRemote() {
		return nil, ierr.NewErrorf("client %d has no active subscription", sub.ClientID).
			Mark(ierr.ErrConflict)
	}

	client, err := s.users.GetUser(ctx, sub.ClientID)
	if err != nil {
		return nil, err
	}
	var current *model.Membership
	if sub.MembershipID != nil {
		if current, err = s.plans.GetMembership(ctx, *sub.MembershipID); err != nil {
			return nil, err
		}
	}

	remote, err := s.releaseSeat(ctx, sub, current, false)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cancelsAt := now
	if remote != nil && remote.CurrentPeriodEnd.After(now) {
		cancelsAt = remote.CurrentPeriodEnd
	}
	sub.Status = subscription.StatusCancellationRequested
	sub.CancelsAt = &cancelsAt
	sub.SeatReleasedAt = &now
	sub.Membership = current
	s.persist(ctx, "cancel_subscription", sub)

	s.logger.Infow("cancellation requested",
		"client_id", sub.ClientID,
		"requester_id", req.RequesterID,
		"cancels_at", cancelsAt)
	s.notifier.SubscriptionCanceled(ctx, client, current, cancelsAt)
	return sub, nil
}
