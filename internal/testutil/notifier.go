package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"membership_backend/internal/model"
)

// Notification is one message handed to the RecordingNotifier.
type Notification struct {
	Kind     string
	To       uint
	ClientID uint
	Amount   decimal.Decimal
	At       time.Time
}

// RecordingNotifier implements billing.Notifier by remembering every call.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) record(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *RecordingNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// OfKind filters the recorded notifications.
func (n *RecordingNotifier) OfKind(kind string) []Notification {
	var out []Notification
	for _, note := range n.Sent() {
		if note.Kind == kind {
			out = append(out, note)
		}
	}
	return out
}

func (n *RecordingNotifier) Welcome(_ context.Context, primary *model.User, _ []*model.User) {
	n.record(Notification{Kind: "welcome", To: primary.ID, ClientID: primary.ID})
}

func (n *RecordingNotifier) PenaltyCharged(_ context.Context, holder, client *model.User, amount decimal.Decimal, _ string) {
	n.record(Notification{Kind: "penalty_charged", To: holder.ID, ClientID: client.ID, Amount: amount})
}

func (n *RecordingNotifier) SubscriptionCanceled(_ context.Context, client *model.User, _ *model.Membership, cancelsAt time.Time) {
	n.record(Notification{Kind: "subscription_canceled", To: client.ID, ClientID: client.ID, At: cancelsAt})
}

func (n *RecordingNotifier) ReenrollmentFeeNotice(_ context.Context, holder, client *model.User, cancelsAt time.Time, amount decimal.Decimal, _ string) {
	n.record(Notification{Kind: "reenrollment_fee_notice", To: holder.ID, ClientID: client.ID, Amount: amount, At: cancelsAt})
}

func (n *RecordingNotifier) RenewalNotice(_ context.Context, holder, client *model.User, _ *model.Membership, renewsAt time.Time) {
	n.record(Notification{Kind: "renewal_notice", To: holder.ID, ClientID: client.ID, At: renewsAt})
}
