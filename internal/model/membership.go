package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"membership_backend/pkg/subscription"
)

// Membership is a dentist's pricing plan. Plans are never deleted: an edit
// deactivates the old row and creates a replacement so historical
// subscriptions keep pointing at what they were sold.
type Membership struct {
	gorm.Model
	UserID       uint                  `json:"user_id" gorm:"index;not null"`
	Name         string                `json:"name" gorm:"not null"`
	Type         string                `json:"type"`
	AgeGroup     subscription.AgeGroup `json:"age_group" gorm:"not null;default:'adult'"`
	Interval     subscription.Interval `json:"interval" gorm:"not null"`
	Price        decimal.Decimal       `json:"price" gorm:"type:numeric(10,2);not null"`
	Active       bool                  `json:"active" gorm:"index;default:true"`
	StripePlanID string                `json:"stripe_plan_id" gorm:"not null"`
}

func (m *Membership) Cycle() subscription.BillingCycle {
	return m.Interval.Cycle()
}
