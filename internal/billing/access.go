package billing

import (
	"context"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/model"
)

// Authorize checks that requesterID may manage the client's membership: the
// client themself, their household's primary account holder or their dentist.
func (s *Service) Authorize(ctx context.Context, clientID, requesterID uint) error {
	sub, err := s.subs.GetByClientID(ctx, clientID)
	if err != nil {
		return err
	}
	profile, err := s.profiles.GetPaymentProfile(ctx, sub.PaymentProfileID)
	if err != nil {
		return err
	}
	return authorizeRequester(sub, profile, requesterID)
}

func authorizeRequester(sub *model.Subscription, profile *model.PaymentProfile, requesterID uint) error {
	if requesterID == sub.ClientID ||
		requesterID == profile.PrimaryAccountHolderID ||
		requesterID == sub.DentistID {
		return nil
	}
	return ierr.NewErrorf("user %d may not manage the membership of client %d", requesterID, sub.ClientID).
		Mark(ierr.ErrPermissionDenied)
}
