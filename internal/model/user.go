package model

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"membership_backend/pkg/subscription"
)

type UserType string

const (
	UserTypeClient  UserType = "client"
	UserTypeDentist UserType = "dentist"
)

type User struct {
	gorm.Model
	Email     string   `json:"email" gorm:"uniqueIndex;not null"`
	Type      UserType `json:"type" gorm:"not null;default:'client'"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`

	// Set on family members; points at the primary account holder.
	AddedBy   *uint      `json:"added_by" gorm:"index"`
	DentistID *uint      `json:"dentist_id" gorm:"index"`
	BirthDate *time.Time `json:"birth_date"`

	ReEnrollmentFeeWaiver bool `json:"re_enrollment_fee_waiver" gorm:"default:false"`

	// Relations
	Addresses []Address `json:"-" gorm:"foreignKey:UserID"`
	Phones    []Phone   `json:"-" gorm:"foreignKey:UserID"`
}

func (u *User) GetFullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsPrimaryAccountHolder reports whether the user heads a household.
func (u *User) IsPrimaryAccountHolder() bool {
	return u.Type == UserTypeClient && u.AddedBy == nil
}

func (u *User) AgeGroup(now time.Time) subscription.AgeGroup {
	return subscription.AgeGroupAt(u.BirthDate, now)
}

type Address struct {
	gorm.Model
	UserID  uint   `json:"user_id" gorm:"index;not null"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

type Phone struct {
	gorm.Model
	UserID uint   `json:"user_id" gorm:"index;not null"`
	Number string `json:"number" gorm:"not null"`
}
