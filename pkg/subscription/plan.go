package subscription

import "time"

type Interval string
type AgeGroup string

const (
	IntervalMonth  Interval = "month"
	IntervalYear   Interval = "year"
	IntervalCustom Interval = "custom"
)

const (
	AgeGroupAdult AgeGroup = "adult"
	AgeGroupChild AgeGroup = "child"
)

// ChildAgeThreshold is the age in years at which a member moves onto adult plans.
const ChildAgeThreshold = 13

// BillingCycle is the cycle a plan is actually billed on. Custom plans bill monthly.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalMonth, IntervalYear, IntervalCustom:
		return true
	}
	return false
}

func (i Interval) Cycle() BillingCycle {
	if i == IntervalYear {
		return CycleAnnual
	}
	return CycleMonthly
}

func (i Interval) IsAnnual() bool {
	return i.Cycle() == CycleAnnual
}

// AgeGroupAt returns the plan age group for someone born on birthDate. Members
// without a birth date are treated as adults.
func AgeGroupAt(birthDate *time.Time, now time.Time) AgeGroup {
	if birthDate == nil || birthDate.IsZero() {
		return AgeGroupAdult
	}
	if AgeAt(*birthDate, now) < ChildAgeThreshold {
		return AgeGroupChild
	}
	return AgeGroupAdult
}

// AgeAt returns completed years between birthDate and now.
func AgeAt(birthDate, now time.Time) int {
	years := now.Year() - birthDate.Year()
	if now.Month() < birthDate.Month() ||
		(now.Month() == birthDate.Month() && now.Day() < birthDate.Day()) {
		years--
	}
	return years
}
