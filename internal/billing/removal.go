package billing

import (
	"context"

	ierr "membership_backend/internal/errors"
	"membership_backend/internal/gateway"
	"membership_backend/internal/model"
)

// removalProration leaves monthly removals to the gateway's default proration
// so unused time is credited. Annual plans are prepaid and never prorated.
func removalProration(interval string) *bool {
	if interval == gateway.IntervalYear {
		return gateway.Bool(false)
	}
	return nil
}

// releaseSeat takes the member's seat off their remote item. The sole occupant
// of a remote subscription deletes it outright; otherwise the item is
// decremented, or deleted when the member held its last seat. It returns the
// remote subscription as it was before the removal. With tolerateMissing a
// subscription or item that is already gone counts as released.
func (s *Service) releaseSeat(ctx context.Context, sub *model.Subscription, current *model.Membership, tolerateMissing bool) (*gateway.Subscription, error) {
	remote, err := s.gateway.GetSubscription(ctx, sub.RemoteSubscriptionID())
	if err != nil {
		if tolerateMissing && gateway.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	item, ok := remote.Item(sub.RemoteItemID())
	if !ok && current != nil {
		item, ok = remote.ItemForPlan(current.StripePlanID)
	}
	if !ok {
		if tolerateMissing {
			return remote, nil
		}
		return nil, ierr.NewErrorf("remote item %s is missing from subscription %s", sub.RemoteItemID(), remote.ID).
			WithHint("The remote subscription no longer matches local records").
			Mark(ierr.ErrNotFound)
	}

	interval := item.Interval
	if current != nil {
		interval = gateway.IntervalMonth
		if current.Interval.IsAnnual() {
			interval = gateway.IntervalYear
		}
	}
	prorate := removalProration(interval)

	switch {
	case remote.TotalQuantity() <= 1:
		err = s.gateway.DeleteSubscription(ctx, remote.ID)
	case item.Quantity <= 1:
		err = s.gateway.DeleteSubscriptionItem(ctx, item.ID, prorate)
	default:
		_, err = s.gateway.UpdateSubscriptionItem(ctx, item.ID, gateway.ItemUpdate{
			Quantity: gateway.Int64(item.Quantity - 1),
			Prorate:  prorate,
		})
	}
	if err != nil {
		if tolerateMissing && gateway.IsNotFound(err) {
			return remote, nil
		}
		return nil, err
	}

	s.logger.Infow("released remote seat",
		"client_id", sub.ClientID,
		"stripe_subscription_id", remote.ID,
		"stripe_subscription_item_id", item.ID,
		"remaining_quantity", item.Quantity-1)
	return remote, nil
}
