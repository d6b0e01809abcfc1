package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/curadesk/curadesk/internal/pkg/billing"
	"github.com/curadesk/curadesk/internal/pkg/paymentmethods"
)

type addPaymentMethodRequest struct {
	ProviderPaymentMethodRef string `json:"provider_payment_method_ref"`
	BillingName              string `json:"billing_name"`
	BillingEmail             string `json:"billing_email"`
	BillingAddressLine1      string `json:"billing_address_line1"`
	BillingAddressLine2      string `json:"billing_address_line2"`
	BillingCity              string `json:"billing_city"`
	BillingPostalCode        string `json:"billing_postal_code"`
	BillingCountry           string `json:"billing_country"`
}

// HandleAddPaymentMethod registers a tokenized instrument for the account.
func HandleAddPaymentMethod(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	var req addPaymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid request body"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	pm, err := paymentMethodService().Add(ctx, ref, paymentmethods.AddInput{
		ProviderPaymentMethodRef: req.ProviderPaymentMethodRef,
		BillingName:              req.BillingName,
		BillingEmail:             req.BillingEmail,
		BillingAddressLine1:      req.BillingAddressLine1,
		BillingAddressLine2:      req.BillingAddressLine2,
		BillingCity:              req.BillingCity,
		BillingPostalCode:        req.BillingPostalCode,
		BillingCountry:           req.BillingCountry,
	})
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(pm)
}

// HandleListPaymentMethods returns all of the account's stored methods.
func HandleListPaymentMethods(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	pms, err := paymentMethodService().List(context.Background(), ref)
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(fiber.Map{"payment_methods": pms})
}

// HandleGetDefaultPaymentMethod returns the account's default method.
func HandleGetDefaultPaymentMethod(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	pm, err := paymentMethodService().GetDefault(context.Background(), ref)
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(pm)
}

type updatePaymentMethodRequest struct {
	BillingName         *string `json:"billing_name"`
	BillingEmail        *string `json:"billing_email"`
	BillingAddressLine1 *string `json:"billing_address_line1"`
	BillingAddressLine2 *string `json:"billing_address_line2"`
	BillingCity         *string `json:"billing_city"`
	BillingPostalCode   *string `json:"billing_postal_code"`
	BillingCountry      *string `json:"billing_country"`
}

// HandleUpdatePaymentMethod edits the stored billing address fields.
func HandleUpdatePaymentMethod(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid payment method id"})
	}

	var req updatePaymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid request body"})
	}

	pm, err := paymentMethodService().Update(context.Background(), ref, uint(id), paymentmethods.BillingFieldsInput{
		BillingName:         req.BillingName,
		BillingEmail:        req.BillingEmail,
		BillingAddressLine1: req.BillingAddressLine1,
		BillingAddressLine2: req.BillingAddressLine2,
		BillingCity:         req.BillingCity,
		BillingPostalCode:   req.BillingPostalCode,
		BillingCountry:      req.BillingCountry,
	})
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(pm)
}

// HandleDeletePaymentMethod detaches and removes a stored method. Deleting
// the default promotes the oldest remaining one.
func HandleDeletePaymentMethod(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid payment method id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	if err := paymentMethodService().Delete(ctx, ref, uint(id)); err != nil {
		return respondBillingError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleSetDefaultPaymentMethod makes the target method the account default.
func HandleSetDefaultPaymentMethod(c *fiber.Ctx) error {
	ref, ok := requireAccountRef(c)
	if !ok {
		return nil
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": billing.CodeInvalidInput, "message": "Invalid payment method id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()

	pm, err := paymentMethodService().SetDefault(ctx, ref, uint(id))
	if err != nil {
		return respondBillingError(c, err)
	}
	return c.JSON(pm)
}
