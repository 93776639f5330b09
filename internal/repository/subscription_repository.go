package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) GetByClientID(ctx context.Context, clientID uint) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&sub).Error; err != nil {
		return nil, translate(err, "get subscription for client %d", clientID)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	return translate(r.db.WithContext(ctx).Create(sub).Error, "create subscription for client %d", sub.ClientID)
}

// Save writes every column, nil pointers included, so cleared remote ids
// reach the row.
func (r *SubscriptionRepository) Save(ctx context.Context, sub *model.Subscription) error {
	err := r.db.WithContext(ctx).Omit("Membership").Save(sub).Error
	return translate(err, "save subscription %d", sub.ID)
}

func (r *SubscriptionRepository) Delete(ctx context.Context, id uint) error {
	return translate(r.db.WithContext(ctx).Delete(&model.Subscription{}, id).Error, "delete subscription %d", id)
}

func (r *SubscriptionRepository) ListByPaymentProfile(ctx context.Context, paymentProfileID uint, statuses ...subscription.Status) ([]*model.Subscription, error) {
	q := r.db.WithContext(ctx).Where("payment_profile_id = ?", paymentProfileID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	return r.list(q, "list subscriptions of payment profile %d", paymentProfileID)
}

func (r *SubscriptionRepository) ListByClients(ctx context.Context, clientIDs []uint, status subscription.Status) ([]*model.Subscription, error) {
	if len(clientIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Where("client_id IN ? AND status = ?", clientIDs, status)
	return r.list(q, "list %s subscriptions of %d clients", status, len(clientIDs))
}

func (r *SubscriptionRepository) ListByRemoteSubscription(ctx context.Context, remoteSubscriptionID string) ([]*model.Subscription, error) {
	q := r.db.WithContext(ctx).Where("stripe_subscription_id = ?", remoteSubscriptionID)
	return r.list(q, "list subscriptions on %s", remoteSubscriptionID)
}

func (r *SubscriptionRepository) ListByStatus(ctx context.Context, status subscription.Status) ([]*model.Subscription, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status)
	return r.list(q, "list %s subscriptions", status)
}

func (r *SubscriptionRepository) ListDueCancellations(ctx context.Context, now time.Time) ([]*model.Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND cancels_at <= ?", subscription.StatusCancellationRequested, now)
	return r.list(q, "list due cancellations")
}

func (r *SubscriptionRepository) ListCancellingBetween(ctx context.Context, from, to time.Time) ([]*model.Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND cancels_at >= ? AND cancels_at < ?", subscription.StatusCancellationRequested, from, to)
	return r.list(q, "list cancellations between %s and %s", from, to)
}

func (r *SubscriptionRepository) HasBillableSubscription(ctx context.Context, clientID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("client_id = ? AND status IN ?", clientID, []subscription.Status{subscription.StatusActive, subscription.StatusPastDue}).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "count subscriptions of client %d", clientID)
	}
	return count > 0, nil
}

func (r *SubscriptionRepository) list(q *gorm.DB, format string, args ...any) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	if err := q.Order("id").Find(&subs).Error; err != nil {
		return nil, translate(err, format, args...)
	}
	return subs, nil
}
