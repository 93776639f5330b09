package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"membership_backend/internal/gateway"
)

// GatewayCall records one mutating or reading call made to the fake.
type GatewayCall struct {
	Method string
	ID     string
	Items  []gateway.ItemQuantity
	Create gateway.ItemCreate
	Update gateway.ItemUpdate
	// Prorate is set for item deletions.
	Prorate *bool
	Invoice gateway.InvoiceItemCreate
}

// InMemoryGateway is a Gateway that keeps remote subscriptions in memory.
type InMemoryGateway struct {
	mu            sync.Mutex
	now           func() time.Time
	seq           int
	subscriptions map[string]*gateway.Subscription
	planIntervals map[string]string
	invoiceItems  []gateway.InvoiceItem
	charges       map[string][]gateway.Charge
	calls         []GatewayCall
	counts        map[string]int
	failures      map[string]error
	nthFailures   map[string]nthFailure
}

type nthFailure struct {
	call int
	err  error
}

func NewInMemoryGateway(now func() time.Time) *InMemoryGateway {
	return &InMemoryGateway{
		now:           now,
		subscriptions: make(map[string]*gateway.Subscription),
		planIntervals: make(map[string]string),
		charges:       make(map[string][]gateway.Charge),
		counts:        make(map[string]int),
		failures:      make(map[string]error),
		nthFailures:   make(map[string]nthFailure),
	}
}

// RegisterPlan tells the fake which interval a remote plan bills on.
func (g *InMemoryGateway) RegisterPlan(planID, interval string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.planIntervals[planID] = interval
}

// FailOn makes the next calls to method return err until cleared with nil.
func (g *InMemoryGateway) FailOn(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, method)
		return
	}
	g.failures[method] = err
}

// FailOnCall makes only the call-th call (1-based) to method return err.
func (g *InMemoryGateway) FailOnCall(method string, call int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nthFailures[method] = nthFailure{call: g.counts[method] + call, err: err}
}

// Seed stores a remote subscription as if it had been created earlier.
func (g *InMemoryGateway) Seed(sub *gateway.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range sub.Items {
		sub.Items[i].SubscriptionID = sub.ID
		if sub.Items[i].Interval == "" {
			sub.Items[i].Interval = g.intervalOf(sub.Items[i].PlanID)
		}
	}
	g.subscriptions[sub.ID] = sub
}

func (g *InMemoryGateway) AddCharge(customerID string, charge gateway.Charge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[customerID] = append(g.charges[customerID], charge)
}

// Subscription returns a copy of the stored remote subscription.
func (g *InMemoryGateway) Subscription(id string) (*gateway.Subscription, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, false
	}
	return cloneSubscription(sub), true
}

func (g *InMemoryGateway) Subscriptions() []*gateway.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Subscription, 0, len(g.subscriptions))
	for _, sub := range g.subscriptions {
		out = append(out, cloneSubscription(sub))
	}
	return out
}

func (g *InMemoryGateway) InvoiceItems() []gateway.InvoiceItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.InvoiceItem(nil), g.invoiceItems...)
}

func (g *InMemoryGateway) Calls() []GatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GatewayCall(nil), g.calls...)
}

// CallsTo returns the recorded calls for one method.
func (g *InMemoryGateway) CallsTo(method string) []GatewayCall {
	var out []GatewayCall
	for _, call := range g.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (g *InMemoryGateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

func (g *InMemoryGateway) CreateSubscription(_ context.Context, customerID string, items []gateway.ItemQuantity) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "CreateSubscription", ID: customerID, Items: items})
	if err := g.failure("CreateSubscription"); err != nil {
		return nil, err
	}

	now := g.now()
	sub := &gateway.Subscription{
		ID:               g.nextID("sub"),
		CustomerID:       customerID,
		Status:           "active",
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
	}
	for _, item := range items {
		interval := g.intervalOf(item.PlanID)
		if interval == gateway.IntervalYear {
			sub.CurrentPeriodEnd = now.AddDate(1, 0, 0)
		}
		sub.Items = append(sub.Items, gateway.Item{
			ID:             g.nextID("si"),
			SubscriptionID: sub.ID,
			PlanID:         item.PlanID,
			Interval:       interval,
			Quantity:       item.Quantity,
			Created:        now,
		})
	}
	g.subscriptions[sub.ID] = sub
	return cloneSubscription(sub), nil
}

func (g *InMemoryGateway) GetSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "GetSubscription", ID: id})
	if err := g.failure("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, missing("get subscription", id)
	}
	return cloneSubscription(sub), nil
}

func (g *InMemoryGateway) DeleteSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "DeleteSubscription", ID: id})
	if err := g.failure("DeleteSubscription"); err != nil {
		return err
	}
	if _, ok := g.subscriptions[id]; !ok {
		return missing("delete subscription", id)
	}
	delete(g.subscriptions, id)
	return nil
}

func (g *InMemoryGateway) CreateSubscriptionItem(_ context.Context, in gateway.ItemCreate) (*gateway.Item, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "CreateSubscriptionItem", ID: in.SubscriptionID, Create: in})
	if err := g.failure("CreateSubscriptionItem"); err != nil {
		return nil, err
	}
	sub, ok := g.subscriptions[in.SubscriptionID]
	if !ok {
		return nil, missing("create subscription item", in.SubscriptionID)
	}
	if _, dup := sub.ItemForPlan(in.PlanID); dup {
		return nil, gateway.NewError("create subscription item", "invalid_request_error",
			fmt.Sprintf("plan %s is already on subscription %s", in.PlanID, sub.ID))
	}
	item := gateway.Item{
		ID:             g.nextID("si"),
		SubscriptionID: sub.ID,
		PlanID:         in.PlanID,
		Interval:       g.intervalOf(in.PlanID),
		Quantity:       in.Quantity,
		Created:        g.now(),
	}
	sub.Items = append(sub.Items, item)
	return &item, nil
}

func (g *InMemoryGateway) UpdateSubscriptionItem(_ context.Context, itemID string, in gateway.ItemUpdate) (*gateway.Item, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "UpdateSubscriptionItem", ID: itemID, Update: in})
	if err := g.failure("UpdateSubscriptionItem"); err != nil {
		return nil, err
	}
	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, gateway.NewError("update subscription item", "", "quantity must be positive")
	}
	sub, idx := g.findItem(itemID)
	if sub == nil {
		return nil, missing("update subscription item", itemID)
	}
	if in.Quantity != nil {
		sub.Items[idx].Quantity = *in.Quantity
	}
	item := sub.Items[idx]
	return &item, nil
}

func (g *InMemoryGateway) DeleteSubscriptionItem(_ context.Context, itemID string, prorate *bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "DeleteSubscriptionItem", ID: itemID, Prorate: prorate})
	if err := g.failure("DeleteSubscriptionItem"); err != nil {
		return err
	}
	sub, idx := g.findItem(itemID)
	if sub == nil {
		return missing("delete subscription item", itemID)
	}
	sub.Items = append(sub.Items[:idx], sub.Items[idx+1:]...)
	return nil
}

func (g *InMemoryGateway) CreateInvoiceItem(_ context.Context, in gateway.InvoiceItemCreate) (*gateway.InvoiceItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "CreateInvoiceItem", ID: in.CustomerID, Invoice: in})
	if err := g.failure("CreateInvoiceItem"); err != nil {
		return nil, err
	}
	ii := gateway.InvoiceItem{
		ID:          g.nextID("ii"),
		CustomerID:  in.CustomerID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Description: in.Description,
	}
	g.invoiceItems = append(g.invoiceItems, ii)
	return &ii, nil
}

func (g *InMemoryGateway) ListCharges(_ context.Context, customerID string, limit int64) ([]gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, GatewayCall{Method: "ListCharges", ID: customerID})
	if err := g.failure("ListCharges"); err != nil {
		return nil, err
	}
	charges := g.charges[customerID]
	if int64(len(charges)) > limit {
		charges = charges[:limit]
	}
	return append([]gateway.Charge(nil), charges...), nil
}

func (g *InMemoryGateway) failure(method string) error {
	g.counts[method]++
	if nth, ok := g.nthFailures[method]; ok && nth.call == g.counts[method] {
		delete(g.nthFailures, method)
		return nth.err
	}
	return g.failures[method]
}

func (g *InMemoryGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *InMemoryGateway) intervalOf(planID string) string {
	if interval, ok := g.planIntervals[planID]; ok {
		return interval
	}
	return gateway.IntervalMonth
}

func (g *InMemoryGateway) findItem(itemID string) (*gateway.Subscription, int) {
	for _, sub := range g.subscriptions {
		for i, item := range sub.Items {
			if item.ID == itemID {
				return sub, i
			}
		}
	}
	return nil, -1
}

func missing(op, id string) error {
	return gateway.NewError(op, gateway.CodeResourceMissing, "no such object: "+id)
}

func cloneSubscription(sub *gateway.Subscription) *gateway.Subscription {
	out := *sub
	out.Items = append([]gateway.Item(nil), sub.Items...)
	return &out
}
