package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/usercontext"
)

type BillingController struct {
	service BillingService
}

func NewBillingController(service BillingService) *BillingController {
	return &BillingController{service: service}
}

type createCheckoutRequest struct {
	PriceID uint `json:"price_id"`
}

type checkoutResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleCreateCheckout opens a checkout session for a price.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	var req createCheckoutRequest
	if err := c.BodyParser(&req); err != nil || req.PriceID == 0 {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "price_id is required")
	}

	session, err := bc.service.CreateCheckout(c.UserContext(), req.PriceID, usercontext.GetUserID(c))
	if err != nil {
		return billingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(checkoutResponse{
		ID:        session.UUID,
		Status:    session.Status,
		ExpiresAt: session.ExpiresAt,
	})
}

// HandleSubmitCheckout hands a pending session to the payment provider.
func (bc *BillingController) HandleSubmitCheckout(c *fiber.Ctx) error {
	var in billing.BuyerDetails
	if err := c.BodyParser(&in); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "request body could not be parsed")
	}

	redirect, err := bc.service.SubmitCheckout(c.UserContext(), c.Params("id"), usercontext.GetUserID(c), in)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(redirect)
}

// HandleListSubscriptions returns the caller's subscriptions.
func (bc *BillingController) HandleListSubscriptions(c *fiber.Ctx) error {
	subs, err := bc.service.ListSubscriptions(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"data": subs})
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

func (bc *BillingController) HandleCancelSubscription(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "subscription_not_found", "The subscription does not exist.")
	}
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "request body could not be parsed")
		}
	}

	sub, err := bc.service.CancelSubscription(c.UserContext(), usercontext.GetUserID(c), id, req.Immediately)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(sub)
}

func (bc *BillingController) HandleResumeSubscription(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "subscription_not_found", "The subscription does not exist.")
	}

	sub, err := bc.service.ResumeSubscription(c.UserContext(), usercontext.GetUserID(c), id)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(sub)
}

// HandlePortal returns the provider's self-service management URL.
func (bc *BillingController) HandlePortal(c *fiber.Ctx) error {
	url, err := bc.service.ManagementURL(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

type supersedePriceRequest struct {
	Amount *int64 `json:"amount"`
}

// HandleSupersedePrice replaces a price with a new amount (admin only).
func (bc *BillingController) HandleSupersedePrice(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "price_not_found", "The requested price does not exist.")
	}
	var req supersedePriceRequest
	if err := c.BodyParser(&req); err != nil || req.Amount == nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "amount is required")
	}

	price, err := bc.service.SupersedePrice(c.UserContext(), id, *req.Amount)
	if err != nil {
		return billingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(price)
}
