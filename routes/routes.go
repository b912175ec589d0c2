package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "coursebank/controllers"
	"coursebank/middleware"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/login", controller.Login)

	// Protected auth endpoints (require valid JWT or session cookie)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Get("/me", controller.GetCurrentUser)
}

// RegisterEntitlementRoutes wires the entitlement resource onto an already
// auth-gated router.
func RegisterEntitlementRoutes(api fiber.Router, ec *controller.EntitlementController) {
	entitlements := api.Group("/entitlements")
	entitlements.Get("/", ec.GetEntitlements)
	entitlements.Post("/", ec.CreateEntitlement)
	entitlements.Get("/:uuid", ec.GetEntitlement)
	entitlements.Patch("/:uuid", ec.UpdateEntitlement)
	entitlements.Delete("/:uuid", ec.RevokeEntitlement)
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB) {
	entitlementController := controller.NewEntitlementController(
		db, log.New(os.Stdout, "ENTITLEMENT: ", log.LstdFlags),
	)

	// Admin API: authenticated staff only, rate limited per account
	api := app.Group("/api/v1",
		middleware.Protected(),
		middleware.StaffOnly(),
		middleware.AdminRateLimiter(),
		logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}),
	)
	RegisterEntitlementRoutes(api, entitlementController)

	// Stripe calls this directly; authentication is the webhook signature.
	payment := app.Group("/payment")
	payment.Post("/webhook", controller.HandlePaymentWebhook)
}

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	controller.InitStripe()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, db)
	SetupAPIRoutes(app, db)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
