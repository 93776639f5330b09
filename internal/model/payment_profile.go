package model

import "gorm.io/gorm"

// PaymentProfile funds every charge of a household.
type PaymentProfile struct {
	gorm.Model
	PrimaryAccountHolderID uint   `json:"primary_account_holder_id" gorm:"uniqueIndex;not null"`
	StripeCustomerID       string `json:"stripe_customer_id" gorm:"not null"`

	PrimaryAccountHolder User `json:"-" gorm:"foreignKey:PrimaryAccountHolderID"`
}
