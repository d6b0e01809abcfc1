package controllers

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/curadesk/curadesk/app/models"
	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/metrics/counter"
)

// HandleProviderWebhook ingests billing provider events. Invalid signatures
// are rejected without any state change; duplicates and unknown event types
// are acknowledged so the provider stops redelivering them. Integration
// failures answer 502 so delivery is retried.
func HandleProviderWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	body := c.Body()

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	result, err := billing.NewReconciler(billingService()).HandleEvent(ctx, signature, body)
	if err != nil {
		switch billing.KindOf(err) {
		case billing.KindSignature:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidSignature, "message": "Webhook signature verification failed"})
		case billing.KindValidation:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeOf(err), "message": billingErrorMessage(err)})
		default:
			log.Printf("webhook processing failed: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": billing.CodeOf(err), "message": "Webhook processing failed"})
		}
	}

	status := "ok"
	switch {
	case result.Duplicate:
		status = "duplicate"
	case result.Ignored:
		status = "ignored"
		bumpCounter(models.StatWebhooksIgnored)
	default:
		bumpCounter(models.StatWebhooksProcessed)
		if result.PaymentRecorded {
			bumpCounter(models.StatPaymentsRecorded)
		}
		invalidateStatusCache(result.Account)
	}

	return c.JSON(fiber.Map{"status": status, "event_type": result.EventType})
}

func bumpCounter(metric string) {
	if err := counter.Add(metric); err != nil {
		log.Printf("counter %s increment failed: %v", metric, err)
	}
}
