package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
	"github.com/ManuelReschke/billingsync/internal/pkg/metrics"
)

// WebhookProcessor verifies and applies one provider delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider string, req gateway.WebhookRequest) (*billing.Result, error)
}

type WebhookController struct {
	engine WebhookProcessor
}

func NewWebhookController(engine WebhookProcessor) *WebhookController {
	return &WebhookController{engine: engine}
}

// HandleWebhook answers POST /billing/webhooks/:provider. Providers only
// get a status code back.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	started := time.Now()
	provider := c.Params("provider")

	// fasthttp reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)
	header := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	result, err := wc.engine.HandleWebhook(c.UserContext(), provider, gateway.WebhookRequest{Body: body, Header: header})
	if err != nil {
		status, outcome := webhookFailure(err)
		if status == fiber.StatusInternalServerError {
			log.Errorf("[WebhookController] %s webhook failed: %v", provider, err)
		}
		metrics.ObserveWebhook(provider, "", outcome, started)
		return c.SendStatus(status)
	}

	outcome := metrics.OutcomeProcessed
	switch {
	case result.Duplicate:
		outcome = metrics.OutcomeDuplicate
	case result.Ignored:
		outcome = metrics.OutcomeIgnored
	}
	metrics.ObserveWebhook(result.Provider, result.EventType, outcome, started)
	return c.SendStatus(fiber.StatusNoContent)
}

func webhookFailure(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return fiber.StatusBadRequest, metrics.OutcomeInvalidSignature
	case errors.Is(err, billing.ErrMalformedPayload):
		return fiber.StatusBadRequest, metrics.OutcomeError
	case errors.Is(err, billing.ErrGatewayNotFound), errors.Is(err, billing.ErrGatewayNotEnabled):
		return fiber.StatusNotFound, metrics.OutcomeUnknownGateway
	}
	return fiber.StatusInternalServerError, metrics.OutcomeError
}
