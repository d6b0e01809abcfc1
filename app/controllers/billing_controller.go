package controllers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/cache"
)

const providerCallTimeout = 20 * time.Second

type purchaseRequest struct {
	PlanID          uint  `json:"plan_id"`
	PaymentMethodID *uint `json:"payment_method_id"`
}

// HandlePurchaseSubscription starts a subscription on a plan, charging the
// explicit payment method or the account default.
func HandlePurchaseSubscription(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid request body"})
	}
	if req.PlanID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "plan_id is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	sub, err := billingService().Purchase(ctx, ref, req.PlanID, req.PaymentMethodID)
	if err != nil {
		return respondBillingError(c, err)
	}

	invalidateStatusCache(ref)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"subscription": sub})
}

// HandleSubscriptionStatus returns the account's subscription status and
// derived capabilities. Responses are cached briefly; every write path and
// the webhook handler invalidate the cache.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	key := statusCacheKey(ref)
	if cached, err := cache.Get(key); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	} else if !cache.IsNil(err) {
		log.Printf("status cache read for %s failed: %v", ref, err)
	}

	status, err := billingService().Status(context.Background(), ref)
	if err != nil {
		return respondBillingError(c, err)
	}

	if body, err := json.Marshal(status); err == nil {
		if err := cache.Set(key, string(body), statusCacheTTL); err != nil {
			log.Printf("status cache write for %s failed: %v", ref, err)
		}
	}
	return c.JSON(status)
}

// HandlePreviewPlanChange quotes the prorated charge or credit of switching
// the live subscription to another plan without performing the switch.
func HandlePreviewPlanChange(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	planID, err := c.ParamsInt("planID")
	if err != nil || planID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid plan id"})
	}

	preview, err := billingService().PreviewPlanChange(context.Background(), ref, uint(planID))
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(preview)
}

type changePlanRequest struct {
	PlanID uint `json:"plan_id"`
}

// HandleChangePlan switches the live subscription to another plan with
// provider-side proration.
func HandleChangePlan(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid request body"})
	}
	if req.PlanID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "plan_id is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	sub, err := billingService().ChangePlan(ctx, ref, req.PlanID)
	if err != nil {
		return respondBillingError(c, err)
	}

	invalidateStatusCache(ref)
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleCancelSubscription schedules cancellation at period end, or cancels
// immediately when ?immediate=true.
func HandleCancelSubscription(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	immediate := c.QueryBool("immediate", false)

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	sub, err := billingService().Cancel(ctx, ref, immediate)
	if err != nil {
		return respondBillingError(c, err)
	}

	invalidateStatusCache(ref)
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleReactivateSubscription undoes a pending cancellation before the
// period ends.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	sub, err := billingService().Reactivate(ctx, ref)
	if err != nil {
		return respondBillingError(c, err)
	}

	invalidateStatusCache(ref)
	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleListPayments returns the account's payment history, newest first.
func HandleListPayments(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)

	payments, total, err := billingService().ListPayments(context.Background(), ref, page, limit)
	if err != nil {
		return respondBillingError(c, err)
	}

	return c.JSON(fiber.Map{
		"payments": payments,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

