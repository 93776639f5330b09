package model

import (
	"time"

	"gorm.io/gorm"

	"membership_backend/pkg/subscription"
)

// Subscription is a client's relationship with their dentist. There is at
// most one row per client.
type Subscription struct {
	gorm.Model
	ClientID         uint                `json:"client_id" gorm:"uniqueIndex;not null"`
	DentistID        uint                `json:"dentist_id" gorm:"index;not null"`
	PaymentProfileID uint                `json:"payment_profile_id" gorm:"index;not null"`
	MembershipID     *uint               `json:"membership_id"`
	Status           subscription.Status `json:"status" gorm:"index;not null;default:'inactive'"`

	StripeSubscriptionID        *string    `json:"stripe_subscription_id" gorm:"index"`
	StripeSubscriptionItemID    *string    `json:"stripe_subscription_item_id"`
	StripeSubscriptionUpdatedAt *time.Time `json:"stripe_subscription_updated_at"`

	CancelsAt *time.Time `json:"cancels_at" gorm:"index"`
	// Set once a cancellation request has given the remote seat back.
	SeatReleasedAt *time.Time `json:"seat_released_at"`

	// Relations
	Membership *Membership `json:"membership,omitempty" gorm:"foreignKey:MembershipID"`
}

func (s *Subscription) HasRemote() bool {
	return s.StripeSubscriptionID != nil && *s.StripeSubscriptionID != "" &&
		s.StripeSubscriptionItemID != nil && *s.StripeSubscriptionItemID != ""
}

func (s *Subscription) RemoteSubscriptionID() string {
	if s.StripeSubscriptionID == nil {
		return ""
	}
	return *s.StripeSubscriptionID
}

func (s *Subscription) RemoteItemID() string {
	if s.StripeSubscriptionItemID == nil {
		return ""
	}
	return *s.StripeSubscriptionItemID
}

// AssignRemote points the row at a remote line item.
func (s *Subscription) AssignRemote(subscriptionID, itemID string, at time.Time) {
	s.StripeSubscriptionID = &subscriptionID
	s.StripeSubscriptionItemID = &itemID
	s.StripeSubscriptionUpdatedAt = &at
}

// ClearRemote drops the remote identifiers. The assignment timestamp is kept:
// it is how a returning member is told apart from a first enrollment.
func (s *Subscription) ClearRemote() {
	s.StripeSubscriptionID = nil
	s.StripeSubscriptionItemID = nil
}
