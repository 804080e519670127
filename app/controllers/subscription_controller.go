package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/inmodash/inmodash-backend/app/models"
	"github.com/inmodash/inmodash-backend/internal/pkg/billing"
	"github.com/inmodash/inmodash-backend/internal/pkg/usercontext"
)

const subscriptionRequestTimeout = 20 * time.Second

// SubscriptionService is the lifecycle surface the user API needs
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, in billing.CreateSubscriptionInput) (*billing.CreateSubscriptionResult, error)
	CancelSubscription(ctx context.Context, userID uint) (*models.Subscription, error)
	GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error)
}

// SubscriptionController serves the authenticated subscription endpoints
type SubscriptionController struct {
	svc SubscriptionService
}

func NewSubscriptionController(svc SubscriptionService) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

// CreateSubscriptionRequest is the body of POST /api/subscriptions/create.
// Email defaults to the token's email; the rest to the configured plan.
type CreateSubscriptionRequest struct {
	Email    string              `json:"email" validate:"required,email"`
	Plan     string              `json:"plan" validate:"omitempty,max=50"`
	Amount   decimal.NullDecimal `json:"amount"`
	Currency string              `json:"currency" validate:"omitempty,len=3,alpha"`
}

func (sc *SubscriptionController) HandleCreate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	var req CreateSubscriptionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		req.Email = userCtx.Email
	}
	if err := validate.Struct(req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, validationMessage(err))
	}

	in := billing.CreateSubscriptionInput{
		UserID:   userCtx.UserID,
		Email:    req.Email,
		Plan:     req.Plan,
		Amount:   req.Amount,
		Currency: req.Currency,
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), subscriptionRequestTimeout)
	defer cancel()

	log.Infof("[Billing] Creating subscription for user %d (plan %q)", userCtx.UserID, req.Plan)
	result, err := sc.svc.CreateSubscription(ctx, in)
	if err != nil {
		return sc.fail(c, "create subscription", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"subscription": result.Subscription,
		"initPoint":    result.InitPoint,
	})
}

func (sc *SubscriptionController) HandleGetMine(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), subscriptionRequestTimeout)
	defer cancel()

	sub, err := sc.svc.GetUserSubscription(ctx, userCtx.UserID)
	if err != nil {
		return sc.fail(c, "get subscription", err)
	}
	return c.JSON(fiber.Map{"success": true, "subscription": sub})
}

func (sc *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), subscriptionRequestTimeout)
	defer cancel()

	sub, err := sc.svc.CancelSubscription(ctx, userCtx.UserID)
	if err != nil {
		return sc.fail(c, "cancel subscription", err)
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"message":      "Subscription cancelled successfully",
		"subscription": sub,
	})
}

func (sc *SubscriptionController) fail(c *fiber.Ctx, op string, err error) error {
	status := billingErrorStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[Billing] %s failed: %v", op, err)
	}
	switch status {
	case fiber.StatusInternalServerError:
		return errorJSON(c, status, "Failed to "+op)
	case fiber.StatusBadGateway:
		return errorJSON(c, status, "Payment provider unavailable, please retry")
	case fiber.StatusNotFound:
		return errorJSON(c, status, "No subscription found")
	default:
		return errorJSON(c, status, err.Error())
	}
}
