package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/curadesk/curadesk/app/controllers"
	"github.com/curadesk/curadesk/internal/pkg/accounts"
	"github.com/curadesk/curadesk/internal/pkg/database"
	"github.com/curadesk/curadesk/internal/pkg/env"
	"github.com/curadesk/curadesk/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Storage: limiterStorage()}))

	v1 := api.Group("/v1")

	// Plan catalog is readable without authentication so pricing pages can
	// render before signup.
	v1.Get("/plans", controllers.HandleListPlans)
	v1.Get("/plans/:id", controllers.HandleGetPlan)

	authMiddleware := middleware.APIKeyAuthMiddleware(accounts.NewDirectory(database.GetDB()))

	subscription := v1.Group("/subscription", authMiddleware)
	subscription.Post("/", controllers.HandlePurchaseSubscription)
	subscription.Get("/", controllers.HandleSubscriptionStatus)
	subscription.Get("/preview/:planID", controllers.HandlePreviewPlanChange)
	subscription.Put("/plan", controllers.HandleChangePlan)
	subscription.Delete("/", controllers.HandleCancelSubscription)
	subscription.Post("/reactivate", controllers.HandleReactivateSubscription)

	paymentMethods := v1.Group("/payment-methods", authMiddleware)
	paymentMethods.Post("/", controllers.HandleAddPaymentMethod)
	paymentMethods.Get("/", controllers.HandleListPaymentMethods)
	paymentMethods.Get("/default", controllers.HandleGetDefaultPaymentMethod)
	paymentMethods.Put("/:id", controllers.HandleUpdatePaymentMethod)
	paymentMethods.Delete("/:id", controllers.HandleDeletePaymentMethod)
	paymentMethods.Post("/:id/default", controllers.HandleSetDefaultPaymentMethod)

	v1.Get("/payments", authMiddleware, controllers.HandleListPayments)

	// Plan administration is operator-only.
	admin := v1.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}))
	admin.Get("/plans", controllers.HandleAdminListPlans)
	admin.Post("/plans", controllers.HandleAdminCreatePlan)
	admin.Put("/plans/:id", controllers.HandleAdminUpdatePlan)
	admin.Delete("/plans/:id", controllers.HandleAdminRetirePlan)
	admin.Post("/plans/:id/restore", controllers.HandleAdminRestorePlan)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
