package repository

import (
	"context"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"membership_backend/internal/model"
)

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) GetMembership(ctx context.Context, id uint) (*model.Membership, error) {
	var plan model.Membership
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, translate(err, "get membership %d", id)
	}
	return &plan, nil
}

func (r *MembershipRepository) ListActiveByDentist(ctx context.Context, dentistID uint) ([]*model.Membership, error) {
	var plans []*model.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", dentistID, true).
		Order("id").
		Find(&plans).Error
	if err != nil {
		return nil, translate(err, "list plans of dentist %d", dentistID)
	}
	return plans, nil
}

// Upsert creates the plan or, when the dentist already sells a plan under the
// same remote id, refreshes it.
func (r *MembershipRepository) Upsert(ctx context.Context, plan *model.Membership) error {
	var existing model.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND stripe_plan_id = ?", plan.UserID, plan.StripePlanID).
		First(&existing).Error
	switch {
	case err == nil:
		plan.ID = existing.ID
		plan.CreatedAt = existing.CreatedAt
		return translate(r.db.WithContext(ctx).Save(plan).Error, "update membership %d", plan.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return translate(r.db.WithContext(ctx).Create(plan).Error, "create membership %s", plan.StripePlanID)
	default:
		return translate(err, "find membership %s", plan.StripePlanID)
	}
}
