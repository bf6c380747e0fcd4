package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

// BillingService is the part of billing.Service the HTTP layer calls.
type BillingService interface {
	CreateCheckout(ctx context.Context, priceID uint, userID uint) (*models.CheckoutSession, error)
	SubmitCheckout(ctx context.Context, sessionUUID string, userID uint, in billing.BuyerDetails) (*billing.CheckoutRedirect, error)
	CancelSubscription(ctx context.Context, userID, subscriptionID uint, immediately bool) (*models.Subscription, error)
	ResumeSubscription(ctx context.Context, userID, subscriptionID uint) (*models.Subscription, error)
	ManagementURL(ctx context.Context, userID uint) (string, error)
	ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error)
	SupersedePrice(ctx context.Context, priceID uint, newAmount int64) (*models.Price, error)
}

// errorResponse writes the JSON error body used by all billing endpoints.
func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// billingError maps service errors to their HTTP status. Unknown errors
// are logged and answered with a bare 500.
func billingError(c *fiber.Ctx, err error) error {
	var verr *billing.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "the submitted data is invalid",
			"fields":  verr.Fields,
		})
	case errors.Is(err, billing.ErrPriceNotFound):
		return errorResponse(c, fiber.StatusNotFound, "price_not_found", "The requested price does not exist.")
	case errors.Is(err, billing.ErrCheckoutNotFound):
		return errorResponse(c, fiber.StatusNotFound, "checkout_not_found", "The checkout session does not exist.")
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return errorResponse(c, fiber.StatusNotFound, "subscription_not_found", "The subscription does not exist.")
	case errors.Is(err, billing.ErrCustomerNotFound):
		return errorResponse(c, fiber.StatusNotFound, "customer_not_found", "No billing account exists for this user.")
	case errors.Is(err, billing.ErrUserNotFound):
		return errorResponse(c, fiber.StatusNotFound, "user_not_found", "The user does not exist.")
	case errors.Is(err, billing.ErrPriceUnavailable):
		return errorResponse(c, fiber.StatusUnprocessableEntity, "price_unavailable", "The price is no longer available.")
	case errors.Is(err, billing.ErrExpiredSubscription):
		return errorResponse(c, fiber.StatusUnprocessableEntity, "subscription_expired", "The subscription has already ended and cannot be resumed.")
	case errors.Is(err, billing.ErrCheckoutGone):
		return errorResponse(c, fiber.StatusGone, "checkout_gone", "The checkout session is no longer open.")
	case errors.Is(err, billing.ErrCheckoutForbidden):
		return errorResponse(c, fiber.StatusForbidden, "checkout_forbidden", "The checkout session belongs to another account.")
	case errors.Is(err, billing.ErrAlreadySubscribed):
		return errorResponse(c, fiber.StatusConflict, "already_subscribed", "You already hold a subscription to this price.")
	case errors.Is(err, billing.ErrUnsupported):
		return errorResponse(c, fiber.StatusNotImplemented, "unsupported", "The payment provider does not support this operation.")
	case errors.Is(err, billing.ErrGatewayNotFound), errors.Is(err, billing.ErrGatewayNotEnabled):
		return errorResponse(c, fiber.StatusServiceUnavailable, "gateway_unavailable", "The payment provider is not available.")
	}
	log.Errorf("[BillingController] %s %s: %v", c.Method(), c.Path(), err)
	return errorResponse(c, fiber.StatusInternalServerError, "internal_error", "Something went wrong, please try again later.")
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
