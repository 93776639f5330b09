package repository

import (
	"context"

	"gorm.io/gorm"

	"membership_backend/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err, "get user %d", id)
	}
	return &user, nil
}

func (r *UserRepository) ListMembers(ctx context.Context, addedBy uint) ([]*model.User, error) {
	var users []*model.User
	if err := r.db.WithContext(ctx).Where("added_by = ?", addedBy).Order("id").Find(&users).Error; err != nil {
		return nil, translate(err, "list members added by %d", addedBy)
	}
	return users, nil
}

func (r *UserRepository) DeleteUser(ctx context.Context, id uint) error {
	return translate(r.db.WithContext(ctx).Delete(&model.User{}, id).Error, "delete user %d", id)
}

func (r *UserRepository) DeleteContactInfo(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.Address{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&model.Phone{}).Error
	})
	return translate(err, "delete contact info of user %d", userID)
}
