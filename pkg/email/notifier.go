package email

import (
	"bytes"
	"context"
	"html/template"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"membership_backend/internal/model"
)

const (
	// queuePerWorker sizes the backlog a Notifier accepts before dropping.
	queuePerWorker = 64
	sendTimeout    = 30 * time.Second
)

type delivery struct {
	ctx      context.Context
	msg      Message
	template string
}

// Notifier renders member notifications and queues them for a fixed set of
// workers. Queueing never blocks: when the backlog is full the message is
// dropped and logged.
type Notifier struct {
	sender      Sender
	from        string
	templates   *template.Template
	logger      *zap.SugaredLogger
	sendTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan delivery
	workers *pool.Pool
}

func NewNotifier(sender Sender, from string, workers int, logger *zap.SugaredLogger) (*Notifier, error) {
	if workers <= 0 {
		workers = 4
	}
	return newNotifier(sender, from, workers, workers*queuePerWorker, sendTimeout, logger)
}

func newNotifier(sender Sender, from string, workers, queueSize int, timeout time.Duration, logger *zap.SugaredLogger) (*Notifier, error) {
	templates, err := loadTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "load email templates")
	}

	n := &Notifier{
		sender:      sender,
		from:        from,
		templates:   templates,
		logger:      logger,
		sendTimeout: timeout,
		queue:       make(chan delivery, queueSize),
		workers:     pool.New().WithMaxGoroutines(workers),
	}
	for i := 0; i < workers; i++ {
		n.workers.Go(n.work)
	}
	return n, nil
}

// Close stops accepting messages and waits for the queued ones to be handed
// to the sender.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.workers.Wait()
}

func (n *Notifier) work() {
	for d := range n.queue {
		n.deliver(d)
	}
}

func (n *Notifier) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(d.ctx, n.sendTimeout)
	defer cancel()

	id, err := n.sender.Send(ctx, d.msg)
	if err != nil {
		n.logger.Errorw("email delivery failed", "template", d.template, "to", d.msg.To, "error", err)
		return
	}
	n.logger.Debugw("email sent", "template", d.template, "to", d.msg.To, "message_id", id)
}

func (n *Notifier) Welcome(ctx context.Context, primary *model.User, household []*model.User) {
	members := make([]string, 0, len(household))
	for _, u := range household {
		members = append(members, u.GetFullName())
	}
	n.dispatch(ctx, primary.Email, "Welcome to your household membership", "welcome.html", WelcomeEmailData{
		Name:    primary.GetFullName(),
		Members: members,
	})
}

func (n *Notifier) PenaltyCharged(ctx context.Context, holder, client *model.User, amount decimal.Decimal, currency string) {
	n.dispatch(ctx, holder.Email, "Re-enrollment fee charged", "penalty_charged.html", PenaltyChargedData{
		HolderName: holder.GetFullName(),
		MemberName: client.GetFullName(),
		Amount:     formatAmount(amount, currency),
	})
}

func (n *Notifier) SubscriptionCanceled(ctx context.Context, client *model.User, plan *model.Membership, cancelsAt time.Time) {
	data := SubscriptionCanceledData{Name: client.GetFullName(), CancelsAt: cancelsAt}
	if plan != nil {
		data.PlanName = plan.Name
	}
	n.dispatch(ctx, client.Email, "Your membership has been canceled", "subscription_canceled.html", data)
}

func (n *Notifier) ReenrollmentFeeNotice(ctx context.Context, holder, client *model.User, cancelsAt time.Time, amount decimal.Decimal, currency string) {
	n.dispatch(ctx, holder.Email, "Membership ending soon", "reenrollment_fee_notice.html", ReenrollmentFeeNoticeData{
		HolderName: holder.GetFullName(),
		MemberName: client.GetFullName(),
		CancelsAt:  cancelsAt,
		Amount:     formatAmount(amount, currency),
	})
}

func (n *Notifier) RenewalNotice(ctx context.Context, holder, client *model.User, plan *model.Membership, renewsAt time.Time) {
	n.dispatch(ctx, holder.Email, "Your annual membership renews soon", "renewal_notice.html", RenewalNoticeData{
		HolderName: holder.GetFullName(),
		MemberName: client.GetFullName(),
		PlanName:   plan.Name,
		RenewsAt:   renewsAt,
	})
}

func (n *Notifier) dispatch(ctx context.Context, to, subject, templateName string, data any) {
	var body bytes.Buffer
	if err := n.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		n.logger.Errorw("could not render email", "template", templateName, "to", to, "error", err)
		return
	}

	d := delivery{
		ctx:      context.WithoutCancel(ctx),
		msg:      Message{From: n.from, To: to, Subject: subject, HTML: body.String()},
		template: templateName,
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warnw("notifier closed, email dropped", "template", templateName, "to", to)
		return
	}
	select {
	case n.queue <- d:
	default:
		n.logger.Warnw("email queue full, email dropped", "template", templateName, "to", to)
	}
}
