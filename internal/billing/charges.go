package billing

import (
	"context"

	"membership_backend/internal/gateway"
)

// Charge listing bounds shared with the HTTP layer.
const (
	DefaultChargeLimit = 20
	MaxChargeLimit     = 100
)

// ListCharges returns the most recent charges billed to a household.
func (s *Service) ListCharges(ctx context.Context, primaryUserID uint, limit int64) ([]gateway.Charge, error) {
	if limit <= 0 || limit > MaxChargeLimit {
		limit = DefaultChargeLimit
	}
	profile, err := s.profiles.GetByPrimaryAccountHolder(ctx, primaryUserID)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListCharges(ctx, profile.StripeCustomerID, limit)
}
