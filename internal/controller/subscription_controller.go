package controller

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"go.uber.org/zap"

	"membership_backend/internal/billing"
	ierr "membership_backend/internal/errors"
	"membership_backend/internal/gateway"
	"membership_backend/internal/middleware"
	"membership_backend/internal/model"
)

// BillingService is the part of billing.Service the HTTP surface drives.
type BillingService interface {
	EnrollHousehold(ctx context.Context, req billing.EnrollHouseholdRequest) ([]*model.Subscription, error)
	ChangePlan(ctx context.Context, req billing.ChangePlanRequest) (*model.Subscription, error)
	Reenroll(ctx context.Context, req billing.ReenrollRequest) (*model.Subscription, error)
	CancelSubscription(ctx context.Context, req billing.CancelRequest) (*model.Subscription, error)
	ListCharges(ctx context.Context, primaryUserID uint, limit int64) ([]gateway.Charge, error)
	Authorize(ctx context.Context, clientID, requesterID uint) error
	HandlePaymentFailed(ctx context.Context, remoteSubscriptionID string, attempt int64) error
	HandlePaymentSucceeded(ctx context.Context, remoteSubscriptionID string) error
}

type MembershipInput struct {
	MembershipID uint `json:"membership_id" validate:"required"`
}

type ChargeResponse struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Paid        bool   `json:"paid"`
	Created     int64  `json:"created"`
}

type SubscriptionController struct {
	billing       BillingService
	validate      *validator.Validate
	webhookSecret string
	logger        *zap.SugaredLogger
}

func NewSubscriptionController(svc BillingService, webhookSecret string, logger *zap.SugaredLogger) *SubscriptionController {
	return &SubscriptionController{
		billing:       svc,
		validate:      validator.New(),
		webhookSecret: webhookSecret,
		logger:        logger.Named("subscription_controller"),
	}
}

// RegisterRoutes mounts the membership endpoints. auth guards everything but
// the processor webhook. Enrollment and charges belong to the paying client;
// plan changes and cancellations are also open to the member's dentist.
func (ctl *SubscriptionController) RegisterRoutes(api fiber.Router, auth fiber.Handler) {
	clientsOnly := middleware.RequireUserType(string(model.UserTypeClient))

	api.Post("/webhook", ctl.HandleStripeWebhook)

	subscriptions := api.Group("/subscriptions", auth)
	subscriptions.Post("/enroll", clientsOnly, ctl.Enroll)
	subscriptions.Post("/:clientId/change-plan", ctl.ChangePlan)
	subscriptions.Post("/:clientId/reenroll", ctl.Reenroll)
	subscriptions.Post("/:clientId/cancel", ctl.Cancel)

	profiles := api.Group("/payment-profiles", auth, clientsOnly)
	profiles.Get("/charges", ctl.ListCharges)
}

// Enroll subscribes every inactive member of the caller's household.
func (ctl *SubscriptionController) Enroll(c *fiber.Ctx) error {
	claims := middleware.Claims(c)

	subs, err := ctl.billing.EnrollHousehold(c.UserContext(), billing.EnrollHouseholdRequest{
		PrimaryUserID: claims.UserID,
	})
	if err != nil {
		return ctl.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":       "Household enrolled successfully",
		"subscriptions": subs,
	})
}

func (ctl *SubscriptionController) ChangePlan(c *fiber.Ctx) error {
	clientID, input, err := ctl.parseMembershipRequest(c)
	if err != nil {
		return ctl.respondError(c, err)
	}

	sub, err := ctl.billing.ChangePlan(c.UserContext(), billing.ChangePlanRequest{
		ClientID:     clientID,
		MembershipID: input.MembershipID,
	})
	if err != nil {
		return ctl.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":      "Plan changed successfully",
		"subscription": sub,
	})
}

func (ctl *SubscriptionController) Reenroll(c *fiber.Ctx) error {
	clientID, input, err := ctl.parseMembershipRequest(c)
	if err != nil {
		return ctl.respondError(c, err)
	}

	sub, err := ctl.billing.Reenroll(c.UserContext(), billing.ReenrollRequest{
		ClientID:     clientID,
		MembershipID: input.MembershipID,
	})
	if err != nil {
		return ctl.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":      "Member re-enrolled successfully",
		"subscription": sub,
	})
}

func (ctl *SubscriptionController) Cancel(c *fiber.Ctx) error {
	clientID, err := parseClientID(c)
	if err != nil {
		return ctl.respondError(c, err)
	}

	sub, err := ctl.billing.CancelSubscription(c.UserContext(), billing.CancelRequest{
		ClientID:    clientID,
		RequesterID: middleware.Claims(c).UserID,
	})
	if err != nil {
		return ctl.respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":      "Subscription will be canceled at the end of the billing period",
		"subscription": sub,
	})
}

// ListCharges returns the most recent charges on the caller's payment profile.
func (ctl *SubscriptionController) ListCharges(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", billing.DefaultChargeLimit)
	if limit <= 0 || limit > billing.MaxChargeLimit {
		return ctl.respondError(c, ierr.NewErrorf("invalid limit %d", limit).
			WithHintf("limit must be between 1 and %d", billing.MaxChargeLimit).
			Mark(ierr.ErrValidation))
	}

	charges, err := ctl.billing.ListCharges(c.UserContext(), middleware.Claims(c).UserID, int64(limit))
	if err != nil {
		return ctl.respondError(c, err)
	}

	out := make([]ChargeResponse, 0, len(charges))
	for _, ch := range charges {
		out = append(out, ChargeResponse{
			ID:          ch.ID,
			Amount:      ch.Amount,
			Currency:    ch.Currency,
			Status:      ch.Status,
			Description: ch.Description,
			Paid:        ch.Paid,
			Created:     ch.Created.Unix(),
		})
	}
	return c.JSON(fiber.Map{"charges": out})
}

// HandleStripeWebhook applies invoice outcomes to the rows billed by the
// invoiced subscription. Other event types are acknowledged and ignored.
func (ctl *SubscriptionController) HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), ctl.webhookSecret)
	if err != nil {
		ctl.logger.Warnw("rejected webhook", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	ctl.logger.Infow("processing webhook event", "type", event.Type, "event_id", event.ID)

	switch event.Type {
	case "invoice.payment_failed", "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid invoice payload",
			})
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			break
		}

		if event.Type == "invoice.paid" {
			err = ctl.billing.HandlePaymentSucceeded(c.UserContext(), inv.Subscription.ID)
		} else {
			err = ctl.billing.HandlePaymentFailed(c.UserContext(), inv.Subscription.ID, inv.AttemptCount)
		}
		if err != nil {
			return ctl.respondError(c, err)
		}
	}

	return c.SendStatus(fiber.StatusOK)
}

func (ctl *SubscriptionController) parseMembershipRequest(c *fiber.Ctx) (uint, *MembershipInput, error) {
	clientID, err := parseClientID(c)
	if err != nil {
		return 0, nil, err
	}

	input := new(MembershipInput)
	if err := c.BodyParser(input); err != nil {
		return 0, nil, ierr.WithError(err).
			WithMessage("invalid input").
			Mark(ierr.ErrValidation)
	}
	if err := ctl.validate.Struct(input); err != nil {
		return 0, nil, ierr.WithError(err).
			WithMessage("invalid input").
			WithHint("membership_id is required").
			Mark(ierr.ErrValidation)
	}

	if err := ctl.billing.Authorize(c.UserContext(), clientID, middleware.Claims(c).UserID); err != nil {
		return 0, nil, err
	}
	return clientID, input, nil
}

func parseClientID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("clientId"), 10, 32)
	if err != nil || id == 0 {
		return 0, ierr.NewErrorf("invalid client id %q", c.Params("clientId")).
			Mark(ierr.ErrValidation)
	}
	return uint(id), nil
}

// respondError writes err with the status its class maps to. Server side
// failures are logged and answered with a generic message.
func (ctl *SubscriptionController) respondError(c *fiber.Ctx, err error) error {
	status := ierr.HTTPStatus(err)
	switch status {
	case fiber.StatusInternalServerError:
		ctl.logger.Errorw("request failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	case fiber.StatusBadGateway:
		ctl.logger.Errorw("payment processor request failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "Payment processor unavailable"})
	}

	body := fiber.Map{"error": err.Error()}
	if hints := ierr.Hints(err); len(hints) > 0 {
		body["hints"] = hints
	}
	return c.Status(status).JSON(body)
}
