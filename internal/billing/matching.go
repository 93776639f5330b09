package billing

import (
	"context"
	"time"

	"github.com/samber/lo"

	"membership_backend/internal/gateway"
	"membership_backend/internal/model"
	"membership_backend/pkg/subscription"
)

// household is a snapshot of the remote subscriptions held by a household's
// other billable members.
type household struct {
	subscriptions []*gateway.Subscription
}

func (s *Service) loadHousehold(ctx context.Context, paymentProfileID, excludeClientID uint) (*household, error) {
	rows, err := s.subs.ListByPaymentProfile(ctx, paymentProfileID, subscription.StatusActive, subscription.StatusPastDue)
	if err != nil {
		return nil, err
	}

	ids := lo.Uniq(lo.FilterMap(rows, func(row *model.Subscription, _ int) (string, bool) {
		return row.RemoteSubscriptionID(), row.ClientID != excludeClientID && row.HasRemote()
	}))

	h := &household{}
	for _, id := range ids {
		remote, err := s.gateway.GetSubscription(ctx, id)
		if err != nil {
			if gateway.IsNotFound(err) {
				s.logger.Warnw("household row references a missing remote subscription",
					"payment_profile_id", paymentProfileID,
					"stripe_subscription_id", id)
				continue
			}
			return nil, err
		}
		h.subscriptions = append(h.subscriptions, remote)
	}
	return h, nil
}

// targetItems returns every item billing planID.
func (h *household) targetItems(planID string) []gateway.Item {
	var items []gateway.Item
	for _, sub := range h.subscriptions {
		if item, ok := sub.ItemForPlan(planID); ok {
			items = append(items, item)
		}
	}
	return items
}

// monthlySubscription returns the household's monthly remote subscription.
// There should be at most one.
func (h *household) monthlySubscription() (*gateway.Subscription, bool) {
	return lo.Find(h.subscriptions, func(sub *gateway.Subscription) bool {
		return sub.IsMonthly()
	})
}

type placement struct {
	SubscriptionID string
	ItemID         string
}

// place gives the member a seat on the target plan. Annual seats only join an
// existing item created the same day so billing anchors never mix; monthly
// seats join the target item, then the household's monthly subscription,
// before a new subscription is opened.
func (s *Service) place(ctx context.Context, pc *PlanChangeContext, h *household) (placement, error) {
	planID := pc.Target.StripePlanID
	now := s.now()

	if pc.Target.Interval.IsAnnual() {
		item, ok := lo.Find(h.targetItems(planID), func(item gateway.Item) bool {
			return sameDay(item.Created, now)
		})
		if ok {
			return s.incrementItem(ctx, item)
		}
		return s.openSubscription(ctx, pc.Profile, planID)
	}

	if items := h.targetItems(planID); len(items) > 0 {
		return s.incrementItem(ctx, items[0])
	}

	if monthly, ok := h.monthlySubscription(); ok {
		item, err := s.gateway.CreateSubscriptionItem(ctx, gateway.ItemCreate{
			SubscriptionID: monthly.ID,
			PlanID:         planID,
			Quantity:       1,
			Prorate:        gateway.Bool(false),
		})
		if err != nil {
			return placement{}, err
		}
		return placement{SubscriptionID: monthly.ID, ItemID: item.ID}, nil
	}

	return s.openSubscription(ctx, pc.Profile, planID)
}

func (s *Service) incrementItem(ctx context.Context, item gateway.Item) (placement, error) {
	if _, err := s.gateway.UpdateSubscriptionItem(ctx, item.ID, gateway.ItemUpdate{
		Quantity: gateway.Int64(item.Quantity + 1),
		Prorate:  gateway.Bool(false),
	}); err != nil {
		return placement{}, err
	}
	return placement{SubscriptionID: item.SubscriptionID, ItemID: item.ID}, nil
}

func (s *Service) openSubscription(ctx context.Context, profile *model.PaymentProfile, planID string) (placement, error) {
	remote, err := s.gateway.CreateSubscription(ctx, profile.StripeCustomerID, []gateway.ItemQuantity{
		{PlanID: planID, Quantity: 1},
	})
	if err != nil {
		return placement{}, err
	}
	item, ok := remote.ItemForPlan(planID)
	if !ok {
		return placement{}, gateway.NewError("create subscription", "", "created subscription carries no item for plan "+planID)
	}
	return placement{SubscriptionID: remote.ID, ItemID: item.ID}, nil
}

// sameDay compares calendar days on the gateway clock (UTC).
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
