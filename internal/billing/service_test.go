package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/gateway"
	"membership_backend/internal/model"
	"membership_backend/internal/testutil"
	"membership_backend/pkg/subscription"
)

const testDentistID uint = 100

type BillingServiceSuite struct {
	suite.Suite
	ctx context.Context
	now time.Time

	subs     *testutil.InMemorySubscriptionStore
	users    *testutil.InMemoryUserStore
	plans    *testutil.InMemoryMembershipStore
	profiles *testutil.InMemoryPaymentProfileStore
	ledger   *testutil.InMemoryLedger
	notifier *testutil.RecordingNotifier
	gateway  *testutil.InMemoryGateway
	service  *Service

	monthlyP *model.Membership
	monthlyM *model.Membership
	annualY  *model.Membership
	childP   *model.Membership

	primary *model.User
	profile *model.PaymentProfile
}

func TestBillingService(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	s.subs = testutil.NewInMemorySubscriptionStore()
	s.users = testutil.NewInMemoryUserStore()
	s.plans = testutil.NewInMemoryMembershipStore()
	s.profiles = testutil.NewInMemoryPaymentProfileStore()
	s.ledger = testutil.NewInMemoryLedger()
	s.notifier = testutil.NewRecordingNotifier()
	s.gateway = testutil.NewInMemoryGateway(clock)

	s.monthlyP = s.addPlan("Adult Monthly", "price_adult_monthly", subscription.IntervalMonth, subscription.AgeGroupAdult)
	s.monthlyM = s.addPlan("Adult Monthly Plus", "price_adult_monthly_plus", subscription.IntervalMonth, subscription.AgeGroupAdult)
	s.annualY = s.addPlan("Adult Annual", "price_adult_annual", subscription.IntervalYear, subscription.AgeGroupAdult)
	s.childP = s.addPlan("Child Monthly", "price_child_monthly", subscription.IntervalMonth, subscription.AgeGroupChild)

	s.primary = s.users.Add(&model.User{
		Email:     "holder@example.com",
		Type:      model.UserTypeClient,
		FirstName: "Dana",
		LastName:  "Holder",
		DentistID: lo.ToPtr(testDentistID),
		BirthDate: lo.ToPtr(time.Date(1984, time.June, 1, 0, 0, 0, 0, time.UTC)),
	})
	s.profile = s.profiles.Add(&model.PaymentProfile{
		PrimaryAccountHolderID: s.primary.ID,
		StripeCustomerID:       "cus_household",
	})

	s.service = NewService(Params{
		Subscriptions:   s.subs,
		Users:           s.users,
		Memberships:     s.plans,
		PaymentProfiles: s.profiles,
		Penalties:       s.ledger,
		Reconciliations: s.ledger,
		Notifier:        s.notifier,
		Gateway:         s.gateway,
		ReenrollmentFee: Fee{Amount: decimal.RequireFromString("99.00"), Currency: "usd"},
		JobConcurrency:  2,
		Now:             clock,
		SaveBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	})
}

func (s *BillingServiceSuite) addPlan(name, planID string, interval subscription.Interval, group subscription.AgeGroup) *model.Membership {
	remoteInterval := gateway.IntervalMonth
	if interval.IsAnnual() {
		remoteInterval = gateway.IntervalYear
	}
	s.gateway.RegisterPlan(planID, remoteInterval)
	return s.plans.Add(&model.Membership{
		UserID:       testDentistID,
		Name:         name,
		AgeGroup:     group,
		Interval:     interval,
		Price:        decimal.RequireFromString("39.00"),
		Active:       true,
		StripePlanID: planID,
	})
}

func (s *BillingServiceSuite) addMember(email string, birthYear int) *model.User {
	return s.users.Add(&model.User{
		Email:     email,
		Type:      model.UserTypeClient,
		FirstName: "Member",
		LastName:  email,
		AddedBy:   lo.ToPtr(s.primary.ID),
		DentistID: lo.ToPtr(testDentistID),
		BirthDate: lo.ToPtr(time.Date(birthYear, time.January, 15, 0, 0, 0, 0, time.UTC)),
	})
}

// addRow stores a subscription row. A non-empty subID marks the row as
// holding that remote seat.
func (s *BillingServiceSuite) addRow(client *model.User, plan *model.Membership, status subscription.Status, subID, itemID string) *model.Subscription {
	row := &model.Subscription{
		ClientID:         client.ID,
		DentistID:        testDentistID,
		PaymentProfileID: s.profile.ID,
		Status:           status,
	}
	if plan != nil {
		row.MembershipID = lo.ToPtr(plan.ID)
	}
	if subID != "" {
		row.AssignRemote(subID, itemID, s.now.AddDate(0, -2, 0))
	}
	s.Require().NoError(s.subs.Create(s.ctx, row))
	return row
}

func (s *BillingServiceSuite) seedRemote(id string, periodEnd time.Time, items ...gateway.Item) {
	s.gateway.Seed(&gateway.Subscription{
		ID:               id,
		CustomerID:       s.profile.StripeCustomerID,
		Status:           "active",
		CurrentPeriodEnd: periodEnd,
		Items:            items,
	})
}

func (s *BillingServiceSuite) row(clientID uint) *model.Subscription {
	row, err := s.subs.GetByClientID(s.ctx, clientID)
	s.Require().NoError(err)
	return row
}

func (s *BillingServiceSuite) remote(id string) *gateway.Subscription {
	sub, ok := s.gateway.Subscription(id)
	s.Require().True(ok, "remote subscription %s should exist", id)
	return sub
}

func (s *BillingServiceSuite) TestEnrollHousehold_SingleMonthlyMember() {
	s.addRow(s.primary, s.monthlyP, subscription.StatusInactive, "", "")

	enrolled, err := s.service.EnrollHousehold(s.ctx, EnrollHouseholdRequest{PrimaryUserID: s.primary.ID})
	s.Require().NoError(err)
	s.Len(enrolled, 1)

	calls := s.gateway.CallsTo("CreateSubscription")
	s.Require().Len(calls, 1)
	s.Equal("cus_household", calls[0].ID)
	s.Equal([]gateway.ItemQuantity{{PlanID: s.monthlyP.StripePlanID, Quantity: 1}}, calls[0].Items)

	row := s.row(s.primary.ID)
	s.Equal(subscription.StatusActive, row.Status)
	remote := s.remote(row.RemoteSubscriptionID())
	item, ok := remote.ItemForPlan(s.monthlyP.StripePlanID)
	s.Require().True(ok)
	s.Equal(item.ID, row.RemoteItemID())
	s.Equal(s.now, *row.StripeSubscriptionUpdatedAt)
	s.Len(s.notifier.OfKind("welcome"), 1)
}

func (s *BillingServiceSuite) TestEnrollHousehold_GroupsByCycle() {
	spouse := s.addMember("spouse@example.com", 1986)
	teen := s.addMember("teen@example.com", 2000)
	child := s.addMember("child@example.com", 2020)

	s.addRow(s.primary, s.monthlyP, subscription.StatusInactive, "", "")
	s.addRow(spouse, s.monthlyP, subscription.StatusInactive, "", "")
	s.addRow(teen, s.annualY, subscription.StatusInactive, "", "")
	s.addRow(child, nil, subscription.StatusInactive, "", "")

	enrolled, err := s.service.EnrollHousehold(s.ctx, EnrollHouseholdRequest{PrimaryUserID: s.primary.ID})
	s.Require().NoError(err)
	s.Len(enrolled, 3)

	calls := s.gateway.CallsTo("CreateSubscription")
	s.Require().Len(calls, 2)
	s.Equal([]gateway.ItemQuantity{{PlanID: s.monthlyP.StripePlanID, Quantity: 2}}, calls[0].Items)
	s.Equal([]gateway.ItemQuantity{{PlanID: s.annualY.StripePlanID, Quantity: 1}}, calls[1].Items)

	primaryRow, spouseRow, teenRow := s.row(s.primary.ID), s.row(spouse.ID), s.row(teen.ID)
	s.Equal(primaryRow.RemoteSubscriptionID(), spouseRow.RemoteSubscriptionID())
	s.Equal(primaryRow.RemoteItemID(), spouseRow.RemoteItemID())
	s.NotEqual(primaryRow.RemoteSubscriptionID(), teenRow.RemoteSubscriptionID())
	s.Equal(subscription.StatusActive, teenRow.Status)

	placeholder := s.row(child.ID)
	s.Equal(subscription.StatusInactive, placeholder.Status)
	s.False(placeholder.HasRemote())
}

func (s *BillingServiceSuite) TestEnrollHousehold_RejectsMember() {
	spouse := s.addMember("spouse@example.com", 1986)

	_, err := s.service.EnrollHousehold(s.ctx, EnrollHouseholdRequest{PrimaryUserID: spouse.ID})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
	s.Empty(s.gateway.Calls())
}

func (s *BillingServiceSuite) TestEnrollHousehold_NothingToEnroll() {
	_, err := s.service.EnrollHousehold(s.ctx, EnrollHouseholdRequest{PrimaryUserID: s.primary.ID})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))

	placeholder := s.row(s.primary.ID)
	s.Equal(subscription.StatusInactive, placeholder.Status)
	s.Nil(placeholder.MembershipID)
}

func (s *BillingServiceSuite) TestEnrollHousehold_RollsBackOnGatewayFailure() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.addRow(s.primary, s.monthlyP, subscription.StatusInactive, "", "")
	s.addRow(spouse, s.annualY, subscription.StatusInactive, "", "")
	s.gateway.FailOnCall("CreateSubscription", 2, gateway.NewError("create subscription", "card_declined", "card declined"))

	_, err := s.service.EnrollHousehold(s.ctx, EnrollHouseholdRequest{PrimaryUserID: s.primary.ID})
	s.Require().Error(err)
	s.True(ierr.IsGateway(err))

	// The monthly subscription created before the failure is canceled again.
	s.Len(s.gateway.CallsTo("DeleteSubscription"), 1)
	s.Empty(s.gateway.Subscriptions())

	s.Equal([]uint{s.primary.ID}, s.users.ContactInfoDeleted())
	s.Equal(0, s.subs.Len())
	_, err = s.profiles.GetPaymentProfile(s.ctx, s.profile.ID)
	s.True(ierr.IsNotFound(err))
	_, err = s.users.GetUser(s.ctx, s.primary.ID)
	s.True(ierr.IsNotFound(err))
	_, err = s.users.GetUser(s.ctx, spouse.ID)
	s.True(ierr.IsNotFound(err))
	s.Empty(s.notifier.OfKind("welcome"))
}

func (s *BillingServiceSuite) TestEnrollHousehold_RejectsEnrolledHousehold() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.annualY, subscription.StatusInactive, "", "")
	s.gateway.FailOn("CreateSubscription", gateway.NewError("create subscription", "card_declined", "card declined"))

	_, err := s.service.EnrollHousehold(s.ctx, EnrollHouseholdRequest{PrimaryUserID: s.primary.ID})
	s.Require().Error(err)
	s.True(ierr.IsConflict(err))

	s.Empty(s.gateway.CallsTo("CreateSubscription"))
	s.Empty(s.users.ContactInfoDeleted())
	_, err = s.profiles.GetPaymentProfile(s.ctx, s.profile.ID)
	s.NoError(err)
	s.Equal(subscription.StatusActive, s.row(s.primary.ID).Status)
	s.Equal(subscription.StatusInactive, s.row(spouse.ID).Status)

	// The waiting member still joins through re-enrollment.
	s.gateway.FailOn("CreateSubscription", nil)
	sub, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.annualY.ID})
	s.Require().NoError(err)
	s.Equal(subscription.StatusActive, sub.Status)
}

func (s *BillingServiceSuite) TestEnsureHouseholdSubscription_CreatesPlaceholderOnce() {
	first, err := s.service.EnsureHouseholdSubscription(s.ctx, s.primary, s.profile)
	s.Require().NoError(err)
	s.Equal(subscription.StatusInactive, first.Status)
	s.Nil(first.MembershipID)

	second, err := s.service.EnsureHouseholdSubscription(s.ctx, s.primary, s.profile)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(1, s.subs.Len())
}

func (s *BillingServiceSuite) TestReenroll_NewMemberJoinsExistingItem() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, nil, subscription.StatusInactive, "", "")

	sub, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)

	s.Empty(s.gateway.CallsTo("CreateSubscription"))
	updates := s.gateway.CallsTo("UpdateSubscriptionItem")
	s.Require().Len(updates, 1)
	s.Equal("si_p", updates[0].ID)
	s.Equal(int64(2), *updates[0].Update.Quantity)
	s.False(*updates[0].Update.Prorate)

	s.Equal("sub_monthly", sub.RemoteSubscriptionID())
	s.Equal("si_p", sub.RemoteItemID())
	s.Equal(subscription.StatusActive, s.row(spouse.ID).Status)
	s.Empty(s.gateway.InvoiceItems())
	s.Empty(s.ledger.Penalties())
}

func (s *BillingServiceSuite) TestChangePlan_MonthlyToAnnualOpensSubscription() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.annualY.ID})
	s.Require().NoError(err)

	updates := s.gateway.CallsTo("UpdateSubscriptionItem")
	s.Require().Len(updates, 1)
	s.Equal("si_p", updates[0].ID)
	s.Equal(int64(1), *updates[0].Update.Quantity)
	s.Nil(updates[0].Update.Prorate, "monthly removals use the gateway's default proration")

	creates := s.gateway.CallsTo("CreateSubscription")
	s.Require().Len(creates, 1)
	s.Equal([]gateway.ItemQuantity{{PlanID: s.annualY.StripePlanID, Quantity: 1}}, creates[0].Items)

	s.NotEqual("sub_monthly", sub.RemoteSubscriptionID())
	s.Equal(s.annualY.ID, *sub.MembershipID)
	s.Equal(int64(1), s.remote("sub_monthly").TotalQuantity())
}

func (s *BillingServiceSuite) TestChangePlan_AnnualToMonthlyJoinsMonthlySubscription() {
	spouse := s.addMember("spouse@example.com", 1986)
	sibling := s.addMember("sibling@example.com", 1990)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.seedRemote("sub_annual", s.now.AddDate(0, 8, 0),
		gateway.Item{ID: "si_y", PlanID: s.annualY.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.annualY, subscription.StatusActive, "sub_annual", "si_y")
	s.addRow(sibling, s.annualY, subscription.StatusActive, "sub_annual", "si_y")

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.monthlyM.ID})
	s.Require().NoError(err)

	updates := s.gateway.CallsTo("UpdateSubscriptionItem")
	s.Require().Len(updates, 1)
	s.Equal("si_y", updates[0].ID)
	s.Equal(int64(1), *updates[0].Update.Quantity)
	s.Require().NotNil(updates[0].Update.Prorate)
	s.False(*updates[0].Update.Prorate)

	adds := s.gateway.CallsTo("CreateSubscriptionItem")
	s.Require().Len(adds, 1)
	s.Equal("sub_monthly", adds[0].Create.SubscriptionID)
	s.Equal(s.monthlyM.StripePlanID, adds[0].Create.PlanID)
	s.Equal(int64(1), adds[0].Create.Quantity)
	s.False(*adds[0].Create.Prorate)
	s.Empty(s.gateway.CallsTo("CreateSubscription"))

	s.Equal("sub_monthly", sub.RemoteSubscriptionID())
	item, ok := s.remote("sub_monthly").ItemForPlan(s.monthlyM.StripePlanID)
	s.Require().True(ok)
	s.Equal(item.ID, sub.RemoteItemID())
}

func (s *BillingServiceSuite) TestChangePlan_AnnualToMonthlyIncrementsExistingItem() {
	spouse := s.addMember("spouse@example.com", 1986)
	sibling := s.addMember("sibling@example.com", 1990)
	parent := s.addMember("parent@example.com", 1960)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1},
		gateway.Item{ID: "si_m", PlanID: s.monthlyM.StripePlanID, Quantity: 1})
	s.seedRemote("sub_annual", s.now.AddDate(0, 8, 0),
		gateway.Item{ID: "si_y", PlanID: s.annualY.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(sibling, s.monthlyM, subscription.StatusActive, "sub_monthly", "si_m")
	s.addRow(spouse, s.annualY, subscription.StatusActive, "sub_annual", "si_y")
	s.addRow(parent, s.annualY, subscription.StatusActive, "sub_annual", "si_y")

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.monthlyM.ID})
	s.Require().NoError(err)

	updates := s.gateway.CallsTo("UpdateSubscriptionItem")
	s.Require().Len(updates, 2)
	s.Equal("si_y", updates[0].ID)
	s.Equal(int64(1), *updates[0].Update.Quantity)
	s.Equal("si_m", updates[1].ID)
	s.Equal(int64(2), *updates[1].Update.Quantity)
	s.Require().NotNil(updates[1].Update.Prorate)
	s.False(*updates[1].Update.Prorate)

	s.Empty(s.gateway.CallsTo("CreateSubscriptionItem"))
	s.Empty(s.gateway.CallsTo("CreateSubscription"))

	s.Equal("sub_monthly", sub.RemoteSubscriptionID())
	s.Equal("si_m", sub.RemoteItemID())
	s.Equal(s.monthlyM.ID, *sub.MembershipID)
	item, _ := s.remote("sub_monthly").Item("si_m")
	s.Equal(int64(2), item.Quantity)
	s.Equal(int64(1), s.remote("sub_annual").TotalQuantity())
}

func (s *BillingServiceSuite) TestChangePlan_AnnualJoinsItemCreatedToday() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.seedRemote("sub_annual", s.now.AddDate(1, 0, 0),
		gateway.Item{ID: "si_y", PlanID: s.annualY.StripePlanID, Quantity: 1, Created: s.now.Add(-2 * time.Hour)})
	sibling := s.addMember("sibling@example.com", 1990)
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(sibling, s.annualY, subscription.StatusActive, "sub_annual", "si_y")

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.annualY.ID})
	s.Require().NoError(err)

	s.Empty(s.gateway.CallsTo("CreateSubscription"))
	s.Equal("sub_annual", sub.RemoteSubscriptionID())
	item, _ := s.remote("sub_annual").Item("si_y")
	s.Equal(int64(2), item.Quantity)
}

func (s *BillingServiceSuite) TestChangePlan_AnnualItemFromAnotherDayIsNotShared() {
	spouse := s.addMember("spouse@example.com", 1986)
	sibling := s.addMember("sibling@example.com", 1990)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.seedRemote("sub_annual", s.now.AddDate(0, 6, 0),
		gateway.Item{ID: "si_y", PlanID: s.annualY.StripePlanID, Quantity: 1, Created: s.now.AddDate(0, -6, 0)})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(sibling, s.annualY, subscription.StatusActive, "sub_annual", "si_y")

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.annualY.ID})
	s.Require().NoError(err)

	s.Len(s.gateway.CallsTo("CreateSubscription"), 1)
	s.NotEqual("sub_annual", sub.RemoteSubscriptionID())
	item, _ := s.remote("sub_annual").Item("si_y")
	s.Equal(int64(1), item.Quantity)
}

func (s *BillingServiceSuite) TestChangePlan_SoleOccupantDeletesSubscription() {
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: s.primary.ID, MembershipID: s.monthlyM.ID})
	s.Require().NoError(err)

	s.Len(s.gateway.CallsTo("DeleteSubscription"), 1)
	_, exists := s.gateway.Subscription("sub_monthly")
	s.False(exists)
	s.Len(s.gateway.CallsTo("CreateSubscription"), 1)
	s.Equal(s.monthlyM.ID, *sub.MembershipID)
}

func (s *BillingServiceSuite) TestChangePlan_RoundTripRestoresRemoteState() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	_, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.monthlyM.ID})
	s.Require().NoError(err)
	s.Len(s.remote("sub_monthly").Items, 2)

	sub, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)

	remote := s.remote("sub_monthly")
	s.Require().Len(remote.Items, 1)
	s.Equal("si_p", remote.Items[0].ID)
	s.Equal(int64(2), remote.Items[0].Quantity)
	s.Equal("si_p", sub.RemoteItemID())
	s.Len(s.gateway.Subscriptions(), 1)
}

func (s *BillingServiceSuite) TestChangePlan_Conflicts() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusCanceled, "", "")

	_, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: s.primary.ID, MembershipID: s.monthlyP.ID})
	s.Require().Error(err)
	s.True(ierr.IsConflict(err))

	_, err = s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: spouse.ID, MembershipID: s.monthlyM.ID})
	s.Require().Error(err)
	s.True(ierr.IsConflict(err))

	s.Empty(s.gateway.CallsTo("UpdateSubscriptionItem"))
	s.Empty(s.gateway.CallsTo("DeleteSubscription"))
}

func (s *BillingServiceSuite) TestChangePlan_RejectsUnsuitablePlans() {
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	retired := s.plans.Add(&model.Membership{UserID: testDentistID, Interval: subscription.IntervalMonth, AgeGroup: subscription.AgeGroupAdult, StripePlanID: "price_retired"})
	foreign := s.plans.Add(&model.Membership{UserID: testDentistID + 1, Interval: subscription.IntervalMonth, AgeGroup: subscription.AgeGroupAdult, Active: true, StripePlanID: "price_foreign"})

	for _, planID := range []uint{retired.ID, foreign.ID, s.childP.ID} {
		_, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: s.primary.ID, MembershipID: planID})
		s.Require().Error(err)
		s.True(ierr.IsValidation(err), "membership %d", planID)
	}

	_, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: 999, MembershipID: s.monthlyM.ID})
	s.True(ierr.IsNotFound(err))
	s.Empty(s.gateway.CallsTo("DeleteSubscription"))
}

func (s *BillingServiceSuite) TestChangePlan_PlacementFailureIsRecorded() {
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.gateway.FailOn("CreateSubscription", gateway.NewError("create subscription", "card_declined", "card declined"))

	_, err := s.service.ChangePlan(s.ctx, ChangePlanRequest{ClientID: s.primary.ID, MembershipID: s.annualY.ID})
	s.Require().Error(err)
	s.True(ierr.IsGateway(err))

	issues := s.ledger.Issues()
	s.Require().Len(issues, 1)
	s.Equal("change_plan", issues[0].Operation)
	s.Equal(s.primary.ID, issues[0].ClientID)
}

func (s *BillingServiceSuite) TestReenroll_ChargesReturningMember() {
	holder, err := s.users.GetUser(s.ctx, s.primary.ID)
	s.Require().NoError(err)
	holder.ReEnrollmentFeeWaiver = true
	s.users.Add(holder)

	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	returning := s.addRow(spouse, nil, subscription.StatusCanceled, "", "")
	returning.StripeSubscriptionUpdatedAt = lo.ToPtr(s.now.AddDate(0, -3, 0))
	s.Require().NoError(s.subs.Save(s.ctx, returning))

	sub, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)
	s.Equal(subscription.StatusActive, sub.Status)

	invoiceItems := s.gateway.InvoiceItems()
	s.Require().Len(invoiceItems, 1)
	s.Equal(int64(9900), invoiceItems[0].Amount)
	s.Equal("usd", invoiceItems[0].Currency)
	s.Equal("cus_household", invoiceItems[0].CustomerID)

	penalties := s.ledger.Penalties()
	s.Require().Len(penalties, 1)
	s.Equal(spouse.ID, penalties[0].ClientID)
	s.Equal(subscription.PenaltyReenrollment, penalties[0].Type)
	s.True(decimal.RequireFromString("99").Equal(penalties[0].Amount))
	s.Equal(invoiceItems[0].ID, penalties[0].StripeInvoiceItemID)
	s.Len(s.notifier.OfKind("penalty_charged"), 1)
}

func (s *BillingServiceSuite) TestReenroll_FeeFailureKeepsPlacement() {
	holder, err := s.users.GetUser(s.ctx, s.primary.ID)
	s.Require().NoError(err)
	holder.ReEnrollmentFeeWaiver = true
	s.users.Add(holder)

	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	returning := s.addRow(spouse, nil, subscription.StatusCanceled, "", "")
	returning.StripeSubscriptionUpdatedAt = lo.ToPtr(s.now.AddDate(0, -3, 0))
	s.Require().NoError(s.subs.Save(s.ctx, returning))
	s.gateway.FailOn("CreateInvoiceItem", gateway.NewError("create invoice item", "api_error", "processor unavailable"))

	sub, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)
	s.Equal(subscription.StatusActive, sub.Status)
	s.Equal("si_p", sub.RemoteItemID())
	s.Equal(subscription.StatusActive, s.row(spouse.ID).Status)

	s.Empty(s.ledger.Penalties())
	s.Empty(s.notifier.OfKind("penalty_charged"))
	issues := s.ledger.Issues()
	s.Require().Len(issues, 1)
	s.Equal("reenrollment_fee", issues[0].Operation)
	s.Equal(spouse.ID, issues[0].ClientID)

	// A retry is refused because the member already holds the seat.
	_, err = s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.True(ierr.IsConflict(err))
}

func (s *BillingServiceSuite) TestReenroll_NoFeeWithoutFlagOrHistory() {
	spouse := s.addMember("spouse@example.com", 1986)
	returning := s.addRow(spouse, nil, subscription.StatusCanceled, "", "")
	returning.StripeSubscriptionUpdatedAt = lo.ToPtr(s.now.AddDate(0, -3, 0))
	s.Require().NoError(s.subs.Save(s.ctx, returning))

	_, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)
	s.Empty(s.gateway.InvoiceItems())
	s.Len(s.gateway.CallsTo("CreateSubscription"), 1)

	// A flagged household pays nothing for a first enrollment.
	holder, err := s.users.GetUser(s.ctx, s.primary.ID)
	s.Require().NoError(err)
	holder.ReEnrollmentFeeWaiver = true
	s.users.Add(holder)
	sibling := s.addMember("sibling@example.com", 1990)
	s.addRow(sibling, nil, subscription.StatusInactive, "", "")

	_, err = s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: sibling.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)
	s.Empty(s.gateway.InvoiceItems())
	s.Empty(s.ledger.Penalties())
}

func (s *BillingServiceSuite) TestReenroll_ConflictWhenSeatHeld() {
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	_, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: s.primary.ID, MembershipID: s.monthlyM.ID})
	s.Require().Error(err)
	s.True(ierr.IsConflict(err))
	s.Empty(s.gateway.CallsTo("UpdateSubscriptionItem"))
	s.Empty(s.gateway.CallsTo("CreateSubscription"))
}

func (s *BillingServiceSuite) TestReenroll_SaveFailureIsRecorded() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.addRow(spouse, nil, subscription.StatusInactive, "", "")
	s.subs.FailSaves(10, fmt.Errorf("connection reset"))

	sub, err := s.service.Reenroll(s.ctx, ReenrollRequest{ClientID: spouse.ID, MembershipID: s.monthlyP.ID})
	s.Require().NoError(err)
	s.True(sub.HasRemote())

	issues := s.ledger.Issues()
	s.Require().Len(issues, 1)
	s.Equal("reenroll", issues[0].Operation)
	s.Contains(string(issues[0].Payload), sub.RemoteSubscriptionID())
}

func (s *BillingServiceSuite) TestCancelSubscription() {
	spouse := s.addMember("spouse@example.com", 1986)
	periodEnd := s.now.AddDate(0, 0, 20)
	s.seedRemote("sub_monthly", periodEnd,
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	_, err := s.service.CancelSubscription(s.ctx, CancelRequest{ClientID: spouse.ID, RequesterID: 999})
	s.Require().Error(err)
	s.True(ierr.IsPermissionDenied(err))

	sub, err := s.service.CancelSubscription(s.ctx, CancelRequest{ClientID: spouse.ID, RequesterID: s.primary.ID})
	s.Require().NoError(err)
	s.Equal(subscription.StatusCancellationRequested, sub.Status)
	s.Equal(periodEnd, *sub.CancelsAt)
	s.NotNil(sub.SeatReleasedAt)
	s.Equal(int64(1), s.remote("sub_monthly").TotalQuantity())
	s.Len(s.notifier.OfKind("subscription_canceled"), 1)

	_, err = s.service.CancelSubscription(s.ctx, CancelRequest{ClientID: spouse.ID, RequesterID: spouse.ID})
	s.Require().Error(err)
	s.True(ierr.IsConflict(err))
}

func (s *BillingServiceSuite) TestSweepCancellations_IsIdempotent() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	_, err := s.service.CancelSubscription(s.ctx, CancelRequest{ClientID: spouse.ID, RequesterID: spouse.ID})
	s.Require().NoError(err)
	s.gateway.ResetCalls()

	result, err := s.service.SweepCancellations(s.ctx, s.now.AddDate(0, 0, 10))
	s.Require().NoError(err)
	s.Equal(JobResult{}, result, "nothing is due before the period ends")

	s.now = s.now.AddDate(0, 0, 21)
	result, err = s.service.SweepCancellations(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(JobResult{Processed: 1}, result)
	s.Empty(s.gateway.Calls(), "the seat was released when cancellation was requested")

	row := s.row(spouse.ID)
	s.Equal(subscription.StatusCanceled, row.Status)
	s.False(row.HasRemote())
	s.Nil(row.MembershipID)
	s.Nil(row.CancelsAt)
	s.NotNil(row.StripeSubscriptionUpdatedAt)

	result, err = s.service.SweepCancellations(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(JobResult{}, result)
	s.Empty(s.gateway.Calls())
}

func (s *BillingServiceSuite) TestSweepCancellations_ReleasesOutstandingSeats() {
	spouse := s.addMember("spouse@example.com", 1986)
	sibling := s.addMember("sibling@example.com", 1990)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	pending := s.addRow(spouse, s.monthlyP, subscription.StatusCancellationRequested, "sub_monthly", "si_p")
	pending.CancelsAt = lo.ToPtr(s.now.Add(-time.Hour))
	s.Require().NoError(s.subs.Save(s.ctx, pending))

	gone := s.addRow(sibling, s.monthlyP, subscription.StatusCancellationRequested, "sub_gone", "si_gone")
	gone.CancelsAt = lo.ToPtr(s.now.Add(-time.Hour))
	s.Require().NoError(s.subs.Save(s.ctx, gone))

	result, err := s.service.SweepCancellations(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(JobResult{Processed: 2}, result)

	s.Equal(int64(1), s.remote("sub_monthly").TotalQuantity())
	s.Equal(subscription.StatusCanceled, s.row(spouse.ID).Status)
	s.Equal(subscription.StatusCanceled, s.row(sibling.ID).Status)
}

func (s *BillingServiceSuite) TestPaymentEvents() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 20),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 2})
	s.addRow(s.primary, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")
	s.addRow(spouse, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	s.Require().NoError(s.service.HandlePaymentFailed(s.ctx, "sub_monthly", 1))
	s.Equal(subscription.StatusPastDue, s.row(s.primary.ID).Status)
	s.Equal(subscription.StatusPastDue, s.row(spouse.ID).Status)

	s.Require().NoError(s.service.HandlePaymentSucceeded(s.ctx, "sub_monthly"))
	s.Equal(subscription.StatusActive, s.row(s.primary.ID).Status)

	s.Require().NoError(s.service.HandlePaymentFailed(s.ctx, "sub_monthly", 2))
	s.Require().NoError(s.service.HandlePaymentFailed(s.ctx, "sub_monthly", 4))
	for _, clientID := range []uint{s.primary.ID, spouse.ID} {
		row := s.row(clientID)
		s.Equal(subscription.StatusInactive, row.Status)
		s.False(row.HasRemote())
		s.NotNil(row.StripeSubscriptionUpdatedAt)
	}

	// Rows no longer pointing at the subscription are left alone.
	s.Require().NoError(s.service.HandlePaymentSucceeded(s.ctx, "sub_monthly"))
	s.Equal(subscription.StatusInactive, s.row(spouse.ID).Status)
	s.Empty(s.gateway.Calls())
}

func (s *BillingServiceSuite) TestSendReenrollmentFeeNotices() {
	holder, err := s.users.GetUser(s.ctx, s.primary.ID)
	s.Require().NoError(err)
	holder.ReEnrollmentFeeWaiver = true
	s.users.Add(holder)

	spouse := s.addMember("spouse@example.com", 1986)
	sibling := s.addMember("sibling@example.com", 1990)
	soon := s.addRow(spouse, s.monthlyP, subscription.StatusCancellationRequested, "", "")
	soon.CancelsAt = lo.ToPtr(s.now.AddDate(0, 0, 7))
	s.Require().NoError(s.subs.Save(s.ctx, soon))
	later := s.addRow(sibling, s.monthlyP, subscription.StatusCancellationRequested, "", "")
	later.CancelsAt = lo.ToPtr(s.now.AddDate(0, 0, 15))
	s.Require().NoError(s.subs.Save(s.ctx, later))

	result, err := s.service.SendReenrollmentFeeNotices(s.ctx, s.now, 7)
	s.Require().NoError(err)
	s.Equal(JobResult{Processed: 1}, result)

	notices := s.notifier.OfKind("reenrollment_fee_notice")
	s.Require().Len(notices, 1)
	s.Equal(s.primary.ID, notices[0].To)
	s.Equal(spouse.ID, notices[0].ClientID)
}

func (s *BillingServiceSuite) TestSendRenewalNotices() {
	spouse := s.addMember("spouse@example.com", 1986)
	renewsAt := s.now.AddDate(0, 0, 30)
	s.seedRemote("sub_annual", renewsAt,
		gateway.Item{ID: "si_y", PlanID: s.annualY.StripePlanID, Quantity: 2})
	s.seedRemote("sub_monthly", s.now.AddDate(0, 0, 30),
		gateway.Item{ID: "si_p", PlanID: s.monthlyP.StripePlanID, Quantity: 1})
	s.addRow(s.primary, s.annualY, subscription.StatusActive, "sub_annual", "si_y")
	s.addRow(spouse, s.annualY, subscription.StatusActive, "sub_annual", "si_y")
	sibling := s.addMember("sibling@example.com", 1990)
	s.addRow(sibling, s.monthlyP, subscription.StatusActive, "sub_monthly", "si_p")

	result, err := s.service.SendRenewalNotices(s.ctx, s.now, 30)
	s.Require().NoError(err)
	s.Equal(JobResult{Processed: 1}, result)
	s.Len(s.gateway.CallsTo("GetSubscription"), 1)

	notices := s.notifier.OfKind("renewal_notice")
	s.Require().Len(notices, 2)
	for _, note := range notices {
		s.Equal(s.primary.ID, note.To)
		s.Equal(renewsAt, note.At)
	}

	result, err = s.service.SendRenewalNotices(s.ctx, s.now, 14)
	s.Require().NoError(err)
	s.Equal(JobResult{Processed: 1}, result)
	s.Len(s.notifier.OfKind("renewal_notice"), 2)
}

func (s *BillingServiceSuite) TestListCharges() {
	for i := 0; i < 30; i++ {
		s.gateway.AddCharge("cus_household", gateway.Charge{ID: fmt.Sprintf("ch_%d", i), Amount: 3900, Currency: "usd", Paid: true})
	}

	charges, err := s.service.ListCharges(s.ctx, s.primary.ID, 0)
	s.Require().NoError(err)
	s.Len(charges, DefaultChargeLimit)

	charges, err = s.service.ListCharges(s.ctx, s.primary.ID, 5)
	s.Require().NoError(err)
	s.Len(charges, 5)

	_, err = s.service.ListCharges(s.ctx, 999, 5)
	s.True(ierr.IsNotFound(err))
}

func (s *BillingServiceSuite) TestAuthorize() {
	spouse := s.addMember("spouse@example.com", 1986)
	s.addRow(spouse, s.monthlyP, subscription.StatusInactive, "", "")

	s.NoError(s.service.Authorize(s.ctx, spouse.ID, spouse.ID))
	s.NoError(s.service.Authorize(s.ctx, spouse.ID, s.primary.ID))
	s.NoError(s.service.Authorize(s.ctx, spouse.ID, testDentistID))
	s.True(ierr.IsPermissionDenied(s.service.Authorize(s.ctx, spouse.ID, 999)))
	s.True(ierr.IsNotFound(s.service.Authorize(s.ctx, 999, spouse.ID)))
}
