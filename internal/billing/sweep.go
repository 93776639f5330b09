package billing

import (
	"context"
	"time"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// SweepCancellations ends every requested cancellation whose date has passed.
// Rows already canceled are never selected, so a second run costs no gateway
// call.
func (s *Service) SweepCancellations(ctx context.Context, now time.Time) (JobResult, error) {
	rows, err := s.subs.ListDueCancellations(ctx, now)
	if err != nil {
		return JobResult{}, err
	}

	clientIDs := make([]uint, 0, len(rows))
	for _, row := range rows {
		clientIDs = append(clientIDs, row.ClientID)
	}
	return runBatch(ctx, s.logger, "subscription_cancellation", s.jobConcurrency, clientIDs, s.finalizeCancellation), nil
}

func (s *Service) finalizeCancellation(ctx context.Context, clientID uint) error {
	sub, unlock, err := s.lockClientSubscription(ctx, clientID)
	if err != nil {
		return err
	}
	defer unlock()

	if sub.Status != subscription.StatusCancellationRequested {
		return nil
	}

	remoteChanged := false
	if sub.SeatReleasedAt == nil && sub.HasRemote() {
		var current *model.Membership
		if sub.MembershipID != nil {
			current, err = s.plans.GetMembership(ctx, *sub.MembershipID)
			if err != nil && !ierr.IsNotFound(err) {
				return err
			}
		}
		if _, err := s.releaseSeat(ctx, sub, current, true); err != nil {
			return err
		}
		remoteChanged = true
	}

	sub.Status = subscription.StatusCanceled
	sub.ClearRemote()
	sub.MembershipID = nil
	sub.Membership = nil
	sub.CancelsAt = nil
	sub.SeatReleasedAt = nil

	if remoteChanged {
		s.persist(ctx, "subscription_cancellation", sub)
	} else if err := s.subs.Save(ctx, sub); err != nil {
		return err
	}

	s.logger.Infow("subscription canceled", "client_id", sub.ClientID)
	return nil
}
