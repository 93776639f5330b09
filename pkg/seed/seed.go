// Package seed loads the default membership plans of a dentist.
package seed

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"membership_backend/internal/model"
	"membership_backend/pkg/logger"
	"membership_backend/pkg/subscription"
)

type PlanStore interface {
	Upsert(ctx context.Context, plan *model.Membership) error
}

// DefaultPlans returns the starter catalogue of a dentist. Remote plan ids
// are derived from the dentist id so reseeding updates rather than duplicates.
func DefaultPlans(dentistID uint) []*model.Membership {
	plan := func(name string, group subscription.AgeGroup, interval subscription.Interval, price string) *model.Membership {
		return &model.Membership{
			UserID:       dentistID,
			Name:         name,
			Type:         "standard",
			AgeGroup:     group,
			Interval:     interval,
			Price:        decimal.RequireFromString(price),
			Active:       true,
			StripePlanID: fmt.Sprintf("price_dentist%d_%s_%s", dentistID, group, interval),
		}
	}

	return []*model.Membership{
		plan("Adult Monthly", subscription.AgeGroupAdult, subscription.IntervalMonth, "39.00"),
		plan("Adult Annual", subscription.AgeGroupAdult, subscription.IntervalYear, "399.00"),
		plan("Child Monthly", subscription.AgeGroupChild, subscription.IntervalMonth, "29.00"),
		plan("Child Annual", subscription.AgeGroupChild, subscription.IntervalYear, "299.00"),
	}
}

func SeedMembershipPlans(ctx context.Context, store PlanStore, dentistID uint, log *logger.Logger) error {
	if dentistID == 0 {
		return errors.New("seed: dentist id is required")
	}

	for _, plan := range DefaultPlans(dentistID) {
		if err := store.Upsert(ctx, plan); err != nil {
			return errors.Wrapf(err, "seed plan %s", plan.Name)
		}
		log.Debugw("seeded plan", "plan_id", plan.ID, "stripe_plan_id", plan.StripePlanID)
	}

	log.Infow("membership plans seeded", "dentist_id", dentistID)
	return nil
}
