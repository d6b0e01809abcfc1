package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/curadesk/curadesk/internal/pkg/accountctx"
	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/plans"
)

// HandleListPlans returns purchasable plans. Authenticated callers see their
// own audience by default; ?audience= overrides.
func HandleListPlans(c *fiber.Ctx) error {
	audience := strings.ToLower(strings.TrimSpace(c.Query("audience")))
	if audience == "" {
		if ref := accountctx.GetAccountRef(c); ref.Valid() {
			audience = string(ref.Kind)
		}
	}

	list, err := planService().List(context.Background(), plans.ListFilter{Audience: audience})
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(fiber.Map{"plans": list})
}

// HandleGetPlan returns one plan by id.
func HandleGetPlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid plan id"})
	}

	plan, err := planService().Get(context.Background(), uint(id))
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(plan)
}

type planRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	DurationDays int             `json:"duration_days"`
	FeaturesJSON string          `json:"features_json"`
	Audience     string          `json:"audience"`
}

// HandleAdminListPlans lists all plans including retired ones.
func HandleAdminListPlans(c *fiber.Ctx) error {
	filter := plans.ListFilter{
		Audience:       strings.ToLower(strings.TrimSpace(c.Query("audience"))),
		IncludeRetired: true,
	}
	list, err := planService().List(context.Background(), filter)
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(fiber.Map{"plans": list})
}

// HandleAdminCreatePlan publishes a new plan and its provider product/price.
func HandleAdminCreatePlan(c *fiber.Ctx) error {
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid request body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	plan, err := planService().Create(ctx, plans.CreatePlanInput{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		Currency:     req.Currency,
		DurationDays: req.DurationDays,
		FeaturesJSON: req.FeaturesJSON,
		Audience:     req.Audience,
	})
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

type planUpdateRequest struct {
	Name         *string          `json:"name"`
	Description  *string          `json:"description"`
	Price        *decimal.Decimal `json:"price"`
	DurationDays *int             `json:"duration_days"`
	FeaturesJSON *string          `json:"features_json"`
}

// HandleAdminUpdatePlan edits a plan; price or interval changes mint a new
// provider price and rebind the plan to it.
func HandleAdminUpdatePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid plan id"})
	}

	var req planUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid request body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	plan, err := planService().Update(ctx, uint(id), plans.UpdatePlanInput{
		Name:         req.Name,
		Description:  req.Description,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		FeaturesJSON: req.FeaturesJSON,
	})
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(plan)
}

// HandleAdminRetirePlan retires a plan so it can no longer be purchased.
// Plans with live subscriptions cannot be retired.
func HandleAdminRetirePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid plan id"})
	}

	plan, err := planService().Retire(context.Background(), uint(id))
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(plan)
}

// HandleAdminRestorePlan brings a retired plan back on sale.
func HandleAdminRestorePlan(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid plan id"})
	}

	plan, err := planService().Restore(context.Background(), uint(id))
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(plan)
}

