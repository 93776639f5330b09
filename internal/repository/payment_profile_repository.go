package repository

import (
	"context"

	"gorm.io/gorm"

	"membership_backend/internal/model"
)

type PaymentProfileRepository struct {
	db *gorm.DB
}

func NewPaymentProfileRepository(db *gorm.DB) *PaymentProfileRepository {
	return &PaymentProfileRepository{db: db}
}

func (r *PaymentProfileRepository) GetPaymentProfile(ctx context.Context, id uint) (*model.PaymentProfile, error) {
	var profile model.PaymentProfile
	if err := r.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, translate(err, "get payment profile %d", id)
	}
	return &profile, nil
}

func (r *PaymentProfileRepository) GetByPrimaryAccountHolder(ctx context.Context, userID uint) (*model.PaymentProfile, error) {
	var profile model.PaymentProfile
	if err := r.db.WithContext(ctx).Where("primary_account_holder_id = ?", userID).First(&profile).Error; err != nil {
		return nil, translate(err, "get payment profile of user %d", userID)
	}
	return &profile, nil
}

func (r *PaymentProfileRepository) DeletePaymentProfile(ctx context.Context, id uint) error {
	return translate(r.db.WithContext(ctx).Delete(&model.PaymentProfile{}, id).Error, "delete payment profile %d", id)
}
