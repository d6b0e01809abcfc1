package controllers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/curadesk/curadesk/internal/pkg/accountctx"
	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/cache"
	"github.com/curadesk/curadesk/internal/pkg/database"
	"github.com/curadesk/curadesk/internal/pkg/paymentmethods"
	"github.com/curadesk/curadesk/internal/pkg/plans"
)

// gateway is the single provider client, injected once at startup.
var gateway billing.Gateway

// Setup wires the provider gateway into the controller layer.
func Setup(gw billing.Gateway) {
	gateway = gw
}

func billingService() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB(), gateway)
}

func planService() *plans.Service {
	return plans.NewServiceFromDB(database.GetDB(), gateway)
}

func paymentMethodService() *paymentmethods.Service {
	return paymentmethods.NewServiceFromDB(database.GetDB(), gateway)
}

// requireAccountRef returns the caller's account ref or writes a 401.
func requireAccountRef(c *fiber.Ctx) (accountctx.Ref, bool) {
	ref := accountctx.GetAccountRef(c)
	if !ref.Valid() {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Authentication required"})
		return accountctx.Ref{}, false
	}
	return ref, true
}

// respondBillingError maps the billing error taxonomy to HTTP responses.
// Integration failures surface as 500 here; the webhook endpoint maps them
// to 502 itself so the provider retries delivery.
func respondBillingError(c *fiber.Ctx, err error) error {
	code := billing.CodeOf(err)
	switch billing.KindOf(err) {
	case billing.KindValidation, billing.KindSignature:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code, "message": billingErrorMessage(err)})
	case billing.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": code, "message": billingErrorMessage(err)})
	case billing.KindConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": code, "message": billingErrorMessage(err)})
	default:
		log.Printf("billing request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code, "message": "Billing provider request failed"})
	}
}

// billingErrorMessage strips the wrapped cause so provider internals never
// leak into client-facing messages.
func billingErrorMessage(err error) string {
	var be *billing.Error
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

const statusCacheTTL = time.Minute

func statusCacheKey(ref accountctx.Ref) string {
	return fmt.Sprintf("billing:status:%s:%d", ref.Kind, ref.ID)
}

// invalidateStatusCache drops the cached status response after any write that
// can change subscription state. Best effort: a missed delete only extends
// staleness until the TTL expires.
func invalidateStatusCache(ref accountctx.Ref) {
	if !ref.Valid() {
		return
	}
	if err := cache.Delete(statusCacheKey(ref)); err != nil {
		log.Printf("status cache invalidation for %s failed: %v", ref, err)
	}
}
