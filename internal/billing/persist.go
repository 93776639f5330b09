package billing

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/datatypes"

	"membership_backend/internal/model"
)

// persist saves a row after its remote counterpart has already changed. The
// save is retried; if it still fails the divergence is recorded for manual
// reconciliation and the caller carries on. The remote change is never undone
// because nothing would compensate for that either.
func (s *Service) persist(ctx context.Context, op string, sub *model.Subscription) {
	s.saveAfterRemote(ctx, op, sub.ClientID, sub.PaymentProfileID, sub, func() error {
		return s.subs.Save(ctx, sub)
	})
}

func (s *Service) saveAfterRemote(ctx context.Context, op string, clientID, paymentProfileID uint, payload any, save func() error) {
	err := backoff.Retry(save, backoff.WithContext(s.saveBackOff(), ctx))
	if err == nil {
		return
	}

	s.logger.Errorw("local save failed after remote mutation",
		"operation", op,
		"client_id", clientID,
		"payment_profile_id", paymentProfileID,
		"error", err)
	s.recordIssue(ctx, op, clientID, paymentProfileID, err.Error(), payload)
}

func (s *Service) recordIssue(ctx context.Context, op string, clientID, paymentProfileID uint, detail string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}

	issue := &model.ReconciliationIssue{
		Operation:        op,
		ClientID:         clientID,
		PaymentProfileID: paymentProfileID,
		Detail:           detail,
		Payload:          datatypes.JSON(raw),
	}
	if err := s.reconciliations.RecordIssue(context.WithoutCancel(ctx), issue); err != nil {
		s.logger.Errorw("could not record reconciliation issue",
			"operation", op,
			"client_id", clientID,
			"detail", detail,
			"error", err)
	}
}
