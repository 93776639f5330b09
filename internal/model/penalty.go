package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"membership_backend/pkg/subscription"
)

type Penalty struct {
	gorm.Model
	ClientID            uint                     `json:"client_id" gorm:"index;not null"`
	DentistID           uint                     `json:"dentist_id" gorm:"index;not null"`
	Type                subscription.PenaltyType `json:"type" gorm:"not null"`
	Amount              decimal.Decimal          `json:"amount" gorm:"type:numeric(10,2);not null"`
	StripeInvoiceItemID string                   `json:"stripe_invoice_item_id"`
}
