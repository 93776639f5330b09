// Package gateway wraps the remote payment processor. Subscriptions hold
// quantity-bearing items, one item per plan; the quantity is the number of
// household members on that plan.
package gateway

import (
	"context"
	"time"
)

// Gateway is the set of remote operations the billing core relies on. No
// method retries; callers treat every error as fatal to their operation.
type Gateway interface {
	CreateSubscription(ctx context.Context, customerID string, items []ItemQuantity) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	CreateSubscriptionItem(ctx context.Context, params ItemCreate) (*Item, error)
	// UpdateSubscriptionItem rejects a zero quantity; delete the item instead.
	UpdateSubscriptionItem(ctx context.Context, itemID string, params ItemUpdate) (*Item, error)
	DeleteSubscriptionItem(ctx context.Context, itemID string, prorate *bool) error

	CreateInvoiceItem(ctx context.Context, params InvoiceItemCreate) (*InvoiceItem, error)
	ListCharges(ctx context.Context, customerID string, limit int64) ([]Charge, error)
}

type ItemQuantity struct {
	PlanID   string
	Quantity int64
}

type ItemCreate struct {
	SubscriptionID string
	PlanID         string
	Quantity       int64
	// nil leaves proration to the gateway default.
	Prorate *bool
}

type ItemUpdate struct {
	Quantity *int64
	Prorate  *bool
}

type InvoiceItemCreate struct {
	CustomerID  string
	Amount      int64 // minor units
	Currency    string
	Description string
}

type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd time.Time
	Items            []Item
}

type Item struct {
	ID             string
	SubscriptionID string
	PlanID         string
	// Interval is the remote plan interval, "month" or "year".
	Interval string
	Quantity int64
	Created  time.Time
}

type InvoiceItem struct {
	ID          string
	CustomerID  string
	Amount      int64
	Currency    string
	Description string
}

type Charge struct {
	ID          string
	Amount      int64
	Currency    string
	Status      string
	Description string
	Paid        bool
	Created     time.Time
}

// TotalQuantity sums the seats across every item.
func (s *Subscription) TotalQuantity() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

func (s *Subscription) Item(id string) (Item, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

func (s *Subscription) ItemForPlan(planID string) (Item, bool) {
	for _, item := range s.Items {
		if item.PlanID == planID {
			return item, true
		}
	}
	return Item{}, false
}

// IsMonthly reports whether the subscription bills on the monthly cycle.
func (s *Subscription) IsMonthly() bool {
	for _, item := range s.Items {
		if item.Interval != IntervalYear {
			return true
		}
	}
	return false
}

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

func Bool(v bool) *bool    { return &v }
func Int64(v int64) *int64 { return &v }
