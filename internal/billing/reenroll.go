package billing

import (
	"context"
	"fmt"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/gateway"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

type ReenrollRequest struct {
	ClientID     uint `json:"client_id" validate:"required"`
	MembershipID uint `json:"membership_id" validate:"required"`
}

// Reenroll gives a member without a remote seat a seat on the target plan.
// It serves members added after the household signed up as well as lapsed
// or canceled members coming back. Returning members of a household flagged
// with the re-enrollment fee are charged it once.
func (s *Service) Reenroll(ctx context.Context, req ReenrollRequest) (*model.Subscription, error) {
	if req.ClientID == 0 || req.MembershipID == 0 {
		return nil, ierr.NewError("client and membership are required").
			Mark(ierr.ErrValidation)
	}

	sub, unlock, err := s.lockClientSubscription(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sub.StripeSubscriptionID != nil || sub.StripeSubscriptionItemID != nil || sub.Status == subscription.StatusActive {
		return nil, ierr.NewError("user already has an active subscription").
			WithHintf("Client %d still holds a remote seat", sub.ClientID).
			Mark(ierr.ErrConflict)
	}

	client, err := s.users.GetUser(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	target, err := s.loadTargetPlan(ctx, sub, client, req.MembershipID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.GetPaymentProfile(ctx, sub.PaymentProfileID)
	if err != nil {
		return nil, err
	}
	holder, err := s.users.GetUser(ctx, profile.PrimaryAccountHolderID)
	if err != nil {
		return nil, err
	}

	pc := &PlanChangeContext{
		Subscription: sub,
		Client:       client,
		Profile:      profile,
		Target:       target,
		Transition:   ClassifyTransition(target.Interval, target.Interval),
		History:      enrollmentHistoryOf(sub),
	}

	if err := s.assignSeat(ctx, "reenroll", pc); err != nil {
		return nil, err
	}

	s.logger.Infow("member enrolled",
		"client_id", client.ID,
		"membership_id", target.ID,
		"history", pc.History.String(),
		"stripe_subscription_id", sub.RemoteSubscriptionID())

	if holder.ReEnrollmentFeeWaiver && pc.History == EnrollmentPreviously {
		s.chargeReenrollmentFee(ctx, pc, holder)
	}
	return sub, nil
}

// chargeReenrollmentFee bills the fee of a member who is already placed. A
// failed charge does not undo the placement; it is recorded for reconciliation.
func (s *Service) chargeReenrollmentFee(ctx context.Context, pc *PlanChangeContext, holder *model.User) {
	if !s.fee.Amount.IsPositive() {
		return
	}

	invoiceItem, err := s.gateway.CreateInvoiceItem(ctx, gateway.InvoiceItemCreate{
		CustomerID:  pc.Profile.StripeCustomerID,
		Amount:      s.fee.MinorUnits(),
		Currency:    s.fee.Currency,
		Description: fmt.Sprintf("Re-enrollment fee for %s", pc.Client.GetFullName()),
	})
	if err != nil {
		s.logger.Errorw("member re-enrolled but the re-enrollment fee was not charged",
			"client_id", pc.Client.ID,
			"error", err)
		s.recordIssue(ctx, "reenrollment_fee", pc.Client.ID, pc.Profile.ID, "fee not charged: "+err.Error(), pc.Subscription)
		return
	}

	penalty := &model.Penalty{
		ClientID:            pc.Client.ID,
		DentistID:           pc.Subscription.DentistID,
		Type:                subscription.PenaltyReenrollment,
		Amount:              s.fee.Amount,
		StripeInvoiceItemID: invoiceItem.ID,
	}
	s.saveAfterRemote(ctx, "reenrollment_fee", pc.Client.ID, pc.Profile.ID, penalty, func() error {
		return s.penalties.AppendPenalty(ctx, penalty)
	})

	s.notifier.PenaltyCharged(ctx, holder, pc.Client, s.fee.Amount, s.fee.Currency)
}
