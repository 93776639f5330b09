package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

const (
	prorationCreate = "create_prorations"
	prorationNone   = "none"
)

// Stripe implements Gateway with a dedicated stripe client instead of the
// package level stripe.Key.
type Stripe struct {
	api *client.API
}

// NewStripe builds a client with network retries disabled; timeout bounds
// every HTTP call. logger may be nil.
func NewStripe(secretKey string, timeout time.Duration, logger stripe.LeveledLoggerInterface) *Stripe {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if logger != nil {
		cfg.LeveledLogger = logger
	}

	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})
	return &Stripe{api: api}
}

func (g *Stripe) CreateSubscription(ctx context.Context, customerID string, items []ItemQuantity) (*Subscription, error) {
	if len(items) == 0 {
		return nil, NewError("create subscription", "", "at least one item is required")
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
	}
	for _, item := range items {
		params.Items = append(params.Items, &stripe.SubscriptionItemsParams{
			Plan:     stripe.String(item.PlanID),
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	withContext(ctx, &params.Params)

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapStripeError("create subscription", err)
	}
	return toSubscription(sub), nil
}

func (g *Stripe) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapStripeError("get subscription", err)
	}
	return toSubscription(sub), nil
}

func (g *Stripe) DeleteSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	withContext(ctx, &params.Params)

	if _, err := g.api.Subscriptions.Cancel(id, params); err != nil {
		return wrapStripeError("delete subscription", err)
	}
	return nil
}

func (g *Stripe) CreateSubscriptionItem(ctx context.Context, in ItemCreate) (*Item, error) {
	params := &stripe.SubscriptionItemParams{
		Subscription:      stripe.String(in.SubscriptionID),
		Plan:              stripe.String(in.PlanID),
		Quantity:          stripe.Int64(in.Quantity),
		ProrationBehavior: prorationBehavior(in.Prorate),
	}
	withContext(ctx, &params.Params)

	item, err := g.api.SubscriptionItems.New(params)
	if err != nil {
		return nil, wrapStripeError("create subscription item", err)
	}
	out := toItem(item)
	if out.SubscriptionID == "" {
		out.SubscriptionID = in.SubscriptionID
	}
	return &out, nil
}

func (g *Stripe) UpdateSubscriptionItem(ctx context.Context, itemID string, in ItemUpdate) (*Item, error) {
	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, NewError("update subscription item", "", "quantity must be positive, delete the item instead")
	}

	params := &stripe.SubscriptionItemParams{
		ProrationBehavior: prorationBehavior(in.Prorate),
	}
	if in.Quantity != nil {
		params.Quantity = stripe.Int64(*in.Quantity)
	}
	withContext(ctx, &params.Params)

	item, err := g.api.SubscriptionItems.Update(itemID, params)
	if err != nil {
		return nil, wrapStripeError("update subscription item", err)
	}
	out := toItem(item)
	return &out, nil
}

func (g *Stripe) DeleteSubscriptionItem(ctx context.Context, itemID string, prorate *bool) error {
	params := &stripe.SubscriptionItemParams{
		ProrationBehavior: prorationBehavior(prorate),
	}
	withContext(ctx, &params.Params)

	if _, err := g.api.SubscriptionItems.Del(itemID, params); err != nil {
		return wrapStripeError("delete subscription item", err)
	}
	return nil
}

func (g *Stripe) CreateInvoiceItem(ctx context.Context, in InvoiceItemCreate) (*InvoiceItem, error) {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(in.CustomerID),
		Amount:      stripe.Int64(in.Amount),
		Currency:    stripe.String(in.Currency),
		Description: stripe.String(in.Description),
	}
	withContext(ctx, &params.Params)

	ii, err := g.api.InvoiceItems.New(params)
	if err != nil {
		return nil, wrapStripeError("create invoice item", err)
	}
	return &InvoiceItem{
		ID:          ii.ID,
		CustomerID:  in.CustomerID,
		Amount:      ii.Amount,
		Currency:    string(ii.Currency),
		Description: ii.Description,
	}, nil
}

func (g *Stripe) ListCharges(ctx context.Context, customerID string, limit int64) ([]Charge, error) {
	params := &stripe.ChargeListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(limit)
	params.Context = ctx

	var charges []Charge
	iter := g.api.Charges.List(params)
	for iter.Next() && int64(len(charges)) < limit {
		ch := iter.Charge()
		charges = append(charges, Charge{
			ID:          ch.ID,
			Amount:      ch.Amount,
			Currency:    string(ch.Currency),
			Status:      string(ch.Status),
			Description: ch.Description,
			Paid:        ch.Paid,
			Created:     time.Unix(ch.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, wrapStripeError("list charges", err)
	}
	return charges, nil
}

// withContext binds ctx and a fresh idempotency key to a mutating request.
func withContext(ctx context.Context, params *stripe.Params) {
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
}

func prorationBehavior(prorate *bool) *string {
	if prorate == nil {
		return nil
	}
	if *prorate {
		return stripe.String(prorationCreate)
	}
	return stripe.String(prorationNone)
}

func toSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:               sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			converted := toItem(item)
			if converted.SubscriptionID == "" {
				converted.SubscriptionID = sub.ID
			}
			out.Items = append(out.Items, converted)
		}
	}
	return out
}

func toItem(item *stripe.SubscriptionItem) Item {
	out := Item{
		ID:             item.ID,
		SubscriptionID: item.Subscription,
		Quantity:       item.Quantity,
		Created:        time.Unix(item.Created, 0).UTC(),
	}
	if item.Plan != nil {
		out.PlanID = item.Plan.ID
		out.Interval = string(item.Plan.Interval)
	}
	return out
}
