package controller

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"

	"coursebank/config"
	"coursebank/models"
	"coursebank/utils"
)

func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// HandlePaymentWebhook grants entitlements from completed checkouts. The
// checkout session metadata names the buyer and course; the order reference
// becomes the entitlement's order number, which keeps redelivered webhooks
// idempotent through the natural-key grant path.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	event, err := utils.ConstructStripeEvent(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			logrus.WithError(err).Error("failed to parse checkout session")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Error parsing checkout session",
			})
		}
		return handleCheckoutCompleted(c, &session)

	default:
		return c.SendStatus(fiber.StatusOK)
	}
}

func handleCheckoutCompleted(c *fiber.Ctx, session *stripe.CheckoutSession) error {
	username := session.Metadata["username"]
	courseUUIDRaw := session.Metadata["course_uuid"]
	if username == "" || courseUUIDRaw == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Checkout session missing entitlement metadata", nil)
	}

	mode := session.Metadata["mode"]
	if mode == "" {
		mode = config.AppConfig.DefaultCourseMode
	}

	orderNumber := session.ClientReferenceID
	if orderNumber == "" {
		orderNumber = session.ID
	}

	courseUUID, err := uuid.Parse(courseUUIDRaw)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid course UUID provided", err)
	}

	user, err := models.FindUserByUsername(config.DB, username)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid username provided", nil)
	}

	entitlement, created, err := models.GrantEntitlement(config.DB, user, courseUUID, mode, orderNumber)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to grant entitlement", err)
	}

	logrus.WithFields(logrus.Fields{
		"entitlement_uuid": entitlement.UUID.String(),
		"username":         user.Username,
		"course_uuid":      courseUUID.String(),
		"order_number":     orderNumber,
		"created":          created,
	}).Info("entitlement grant from checkout")

	return c.JSON(utils.SuccessResponse(entitlement.Serialize()))
}
