package model

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReconciliationIssue records a remote mutation whose local counterpart could
// not be saved. Rows are worked off manually.
type ReconciliationIssue struct {
	gorm.Model
	Operation        string         `json:"operation" gorm:"index;not null"`
	ClientID         uint           `json:"client_id" gorm:"index"`
	PaymentProfileID uint           `json:"payment_profile_id" gorm:"index"`
	Detail           string         `json:"detail"`
	Payload          datatypes.JSON `json:"payload"`
	Resolved         bool           `json:"resolved" gorm:"default:false"`
}
