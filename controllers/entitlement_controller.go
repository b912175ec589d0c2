package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"coursebank/models"
	"coursebank/utils"
)

// Unenroller reverses an active enrollment when an entitlement is revoked.
// The db handle lets revoke run the unenrollment inside its own transaction.
type Unenroller interface {
	Unenroll(db *gorm.DB, userID uint, courseRunKey string, skipRefund bool) error
}

type enrollmentStore struct{}

func (enrollmentStore) Unenroll(db *gorm.DB, userID uint, courseRunKey string, skipRefund bool) error {
	return models.Unenroll(db, userID, courseRunKey, skipRefund)
}

type EntitlementController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Enrollment Unenroller
}

func NewEntitlementController(db *gorm.DB, logger *log.Logger) *EntitlementController {
	return &EntitlementController{
		DB:         db,
		Logger:     logger,
		Enrollment: enrollmentStore{},
	}
}

// Unfiltered listings stay bounded until the API grows real pagination.
const maxUnfilteredResults = 100

// GetEntitlements returns entitlements matching the query filters, or the
// first 100 records when no filter is supplied.
func (ec *EntitlementController) GetEntitlements(c *fiber.Ctx) error {
	filter := models.EntitlementFilter{
		UUID:        c.Query("uuid"),
		Mode:        c.Query("mode"),
		Username:    c.Query("username"),
		OrderNumber: c.Query("order_number"),
	}

	// Postgres casts the uuid filter server-side; junk must not reach it.
	if filter.UUID != "" {
		if _, err := uuid.Parse(filter.UUID); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid entitlement UUID provided", err)
		}
	}

	query := ec.DB.Preload("User").Preload("Enrollment")
	if filter.Empty() {
		query = query.Limit(maxUnfilteredResults)
	} else {
		query = filter.Apply(query)
	}

	var entitlements []models.CourseEntitlement
	if err := query.Find(&entitlements).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch entitlements", err)
	}

	return c.JSON(utils.ResultsResponse(entitlements...))
}

// CreateEntitlement adds a new entitlement, or returns the existing one when
// the natural key (user, course, mode, order number) already has a row.
func (ec *EntitlementController) CreateEntitlement(c *fiber.Ctx) error {
	var input struct {
		Username    string `json:"username" validate:"required"`
		CourseUUID  string `json:"course_uuid" validate:"required"`
		Mode        string `json:"mode" validate:"required"`
		OrderNumber string `json:"order_number" validate:"required"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Insufficient data to create or update entitlement", err)
	}

	courseUUID, err := uuid.Parse(input.CourseUUID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid course UUID provided", err)
	}

	user, err := models.FindUserByUsername(ec.DB, input.Username)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid username provided", nil)
	}

	entitlement, created, err := models.GrantEntitlement(ec.DB, user, courseUUID, input.Mode, input.OrderNumber)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create entitlement", err)
	}

	// Reload with relations: a pre-existing row may already be redeemed.
	if err := ec.DB.Preload("User").Preload("Enrollment").First(entitlement, entitlement.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch entitlement", err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
		ec.Logger.Printf("entitlement %s granted to %s for course %s", entitlement.UUID, user.Username, courseUUID)
	}
	return c.Status(status).JSON(utils.ResultsResponse(*entitlement))
}

// GetEntitlement returns the single entitlement for the uuid path parameter.
func (ec *EntitlementController) GetEntitlement(c *fiber.Ctx) error {
	entitlement, err := ec.findByUUID(c.Params("uuid"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	return c.JSON(utils.ResultsResponse(*entitlement))
}

// UpdateEntitlement applies the supplied, non-empty subset of the updatable
// fields to the entitlement.
func (ec *EntitlementController) UpdateEntitlement(c *fiber.Ctx) error {
	entitlement, err := ec.findByUUID(c.Params("uuid"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var input struct {
		CourseUUID  string `json:"course_uuid"`
		Mode        string `json:"mode"`
		Username    string `json:"username"`
		OrderNumber string `json:"order_number"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	updates := map[string]interface{}{}
	if input.CourseUUID != "" {
		courseUUID, err := uuid.Parse(input.CourseUUID)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid course UUID provided", err)
		}
		updates["course_uuid"] = courseUUID
	}
	if input.Mode != "" {
		updates["mode"] = input.Mode
	}
	if input.Username != "" {
		user, err := models.FindUserByUsername(ec.DB, input.Username)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid username provided", nil)
		}
		// A redeemed entitlement's enrollment belongs to its owner; moving
		// the owner would orphan the link.
		if user.ID != entitlement.UserID && entitlement.EnrollmentID != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot change the owner of a redeemed entitlement", nil)
		}
		updates["user_id"] = user.ID
	}
	if input.OrderNumber != "" {
		updates["order_number"] = input.OrderNumber
	}

	if len(updates) > 0 {
		// Update through a fresh model: the preloaded relations on the loaded
		// row would re-assign their foreign keys over the map values.
		err := ec.DB.Model(&models.CourseEntitlement{}).
			Where("id = ?", entitlement.ID).
			Updates(updates).Error
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update entitlement", err)
		}
	}

	if err := ec.DB.Preload("User").Preload("Enrollment").First(entitlement, entitlement.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch entitlement", err)
	}
	return c.JSON(utils.ResultsResponse(*entitlement))
}

// RevokeEntitlement expires the entitlement and, when it is redeemed,
// unenrolls the owner from the linked course run. Expiry, unenrollment and
// link-clearing run in one transaction so a failure cannot strand a revoked
// entitlement with a live enrollment. Idempotent: repeat calls keep the first
// expiry timestamp and return 204.
func (ec *EntitlementController) RevokeEntitlement(c *fiber.Ctx) error {
	entitlement, err := ec.findByUUID(c.Params("uuid"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	// Writes go through a fresh model so the preloaded relations cannot
	// restore the foreign keys being cleared.
	err = ec.DB.Transaction(func(tx *gorm.DB) error {
		if entitlement.ExpiredAt == nil {
			now := time.Now().UTC()
			err := tx.Model(&models.CourseEntitlement{}).
				Where("id = ?", entitlement.ID).
				Update("expired_at", now).Error
			if err != nil {
				return err
			}
			entitlement.ExpiredAt = &now
		}

		if entitlement.EnrollmentID != nil && entitlement.Enrollment != nil {
			// Refunds for revoked entitlements are handled out of band.
			if err := ec.Enrollment.Unenroll(tx, entitlement.UserID, entitlement.Enrollment.CourseRunKey, true); err != nil {
				return err
			}
			err := tx.Model(&models.CourseEntitlement{}).
				Where("id = ?", entitlement.ID).
				Update("enrollment_id", nil).Error
			if err != nil {
				return err
			}
			entitlement.EnrollmentID = nil
			entitlement.Enrollment = nil
		}
		return nil
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to revoke entitlement", err)
	}

	ec.Logger.Printf("entitlement %s revoked", entitlement.UUID)
	return c.SendStatus(fiber.StatusNoContent)
}

// findByUUID resolves the uuid path parameter to a stored entitlement. Both
// a malformed uuid and an unknown one are client errors on this API.
func (ec *EntitlementController) findByUUID(param string) (*models.CourseEntitlement, error) {
	entitlementUUID, err := uuid.Parse(param)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid entitlement UUID provided")
	}

	var entitlement models.CourseEntitlement
	err = ec.DB.Preload("User").Preload("Enrollment").
		Where("uuid = ?", entitlementUUID).
		First(&entitlement).Error
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Entitlement of uuid "+param+" does not exist")
	}
	return &entitlement, nil
}
