package billing

import (
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// EnrollmentHistory tells a first enrollment from a returning member. It is
// derived from the row's last remote assignment timestamp.
type EnrollmentHistory int

const (
	EnrollmentNever EnrollmentHistory = iota
	EnrollmentPreviously
)

func (h EnrollmentHistory) String() string {
	if h == EnrollmentPreviously {
		return "previously"
	}
	return "never"
}

func enrollmentHistoryOf(sub *model.Subscription) EnrollmentHistory {
	if sub.StripeSubscriptionUpdatedAt == nil || sub.StripeSubscriptionUpdatedAt.IsZero() {
		return EnrollmentNever
	}
	return EnrollmentPreviously
}

// Transition classifies a move between billing cycles.
type Transition int

const (
	TransitionSameInterval Transition = iota
	TransitionMonthToYear
	TransitionYearToMonth
)

func (t Transition) String() string {
	switch t {
	case TransitionMonthToYear:
		return "month_to_year"
	case TransitionYearToMonth:
		return "year_to_month"
	default:
		return "same_interval"
	}
}

func ClassifyTransition(from, to subscription.Interval) Transition {
	switch {
	case !from.IsAnnual() && to.IsAnnual():
		return TransitionMonthToYear
	case from.IsAnnual() && !to.IsAnnual():
		return TransitionYearToMonth
	default:
		return TransitionSameInterval
	}
}

// PlanChangeContext carries what a plan change or re-enrollment needs once
// every precondition has been checked.
type PlanChangeContext struct {
	Subscription *model.Subscription
	Client       *model.User
	Profile      *model.PaymentProfile
	// Current is nil when the member holds no remote seat.
	Current    *model.Membership
	Target     *model.Membership
	Transition Transition
	History    EnrollmentHistory
}

// EnrollmentContext carries a household through initial enrollment.
type EnrollmentContext struct {
	Primary   *model.User
	Profile   *model.PaymentProfile
	Household []*model.User
	// Rows are every inactive row of the household, placeholders included.
	Rows      []*model.Subscription
	Enrolling []*model.Subscription
	Plans     map[uint]*model.Membership
}
