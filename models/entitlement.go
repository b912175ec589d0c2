package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CourseEntitlement grants a user the right to enroll in some run of a
// course, independent of which run. ExpiredAt doubles as the revocation
// marker: once set it is never cleared.
type CourseEntitlement struct {
	gorm.Model
	UserID uint `gorm:"not null;index;uniqueIndex:idx_entitlement_natural_key" json:"user_id"`

	// External lookup key, assigned when the row is created.
	UUID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"uuid"`

	// UUID of the abstract course, not of a specific run.
	CourseUUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_entitlement_natural_key" json:"course_uuid"`

	// Enrollment track applied when the entitlement is redeemed.
	Mode string `gorm:"size:100;not null;default:'audit';uniqueIndex:idx_entitlement_natural_key" json:"mode"`

	// Nil while the entitlement is active.
	ExpiredAt *time.Time `json:"expired_at"`

	// Nil until the entitlement is redeemed against a concrete run.
	EnrollmentID *uint `gorm:"index" json:"enrollment_id"`

	// External purchase reference, e.g. an order number from commerce.
	OrderNumber *string `gorm:"size:128;uniqueIndex:idx_entitlement_natural_key" json:"order_number"`

	// Relations
	User       User              `json:"-"`
	Enrollment *CourseEnrollment `gorm:"foreignKey:EnrollmentID" json:"-"`
}

func (e *CourseEntitlement) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	return nil
}

// Serialize renders the wire representation of an entitlement. Optional
// fields come back as explicit nulls so clients can distinguish "unredeemed"
// and "unexpired" without probing for missing keys.
func (e *CourseEntitlement) Serialize() map[string]interface{} {
	out := map[string]interface{}{
		"id":                        e.ID,
		"user":                      e.User.Username,
		"uuid":                      e.UUID.String(),
		"course_uuid":               e.CourseUUID.String(),
		"expired_at":                nil,
		"created":                   e.CreatedAt.UTC().Format(time.RFC3339),
		"modified":                  e.UpdatedAt.UTC().Format(time.RFC3339),
		"mode":                      e.Mode,
		"enrollment_course_run_key": nil,
		"order_number":              nil,
	}
	if e.ExpiredAt != nil {
		out["expired_at"] = e.ExpiredAt.UTC().Format(time.RFC3339)
	}
	if e.EnrollmentID != nil && e.Enrollment != nil {
		out["enrollment_course_run_key"] = e.Enrollment.CourseRunKey
	}
	if e.OrderNumber != nil {
		out["order_number"] = *e.OrderNumber
	}
	return out
}

// GrantEntitlement finds or creates the entitlement matching the natural
// dedup key (user, course, mode, order number). Lookup and insert run inside
// one transaction and the key carries a composite unique index, so concurrent
// identical grants collapse onto a single row.
func GrantEntitlement(db *gorm.DB, user *User, courseUUID uuid.UUID, mode, orderNumber string) (*CourseEntitlement, bool, error) {
	entitlement := CourseEntitlement{
		UserID:      user.ID,
		CourseUUID:  courseUUID,
		Mode:        mode,
		OrderNumber: &orderNumber,
	}

	var created bool
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where(
			"user_id = ? AND course_uuid = ? AND mode = ? AND order_number = ?",
			user.ID, courseUUID, mode, orderNumber,
		).FirstOrCreate(&entitlement)
		if result.Error != nil {
			return result.Error
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	entitlement.User = *user
	return &entitlement, created, nil
}

// LinkEnrollment redeems the entitlement against a concrete course run. The
// enrollment must belong to the entitlement's owner.
func (e *CourseEntitlement) LinkEnrollment(db *gorm.DB, enrollment *CourseEnrollment) error {
	if enrollment.UserID != e.UserID {
		return fmt.Errorf("enrollment %d does not belong to user %d", enrollment.ID, e.UserID)
	}
	err := db.Model(&CourseEntitlement{}).
		Where("id = ?", e.ID).
		Update("enrollment_id", enrollment.ID).Error
	if err != nil {
		return err
	}
	e.EnrollmentID = &enrollment.ID
	e.Enrollment = enrollment
	return nil
}

// EntitlementFilter enumerates the recognized list filters. Anything else on
// the query string never reaches the store.
type EntitlementFilter struct {
	UUID        string
	Mode        string
	Username    string
	OrderNumber string
}

// Empty reports whether no constraint was supplied.
func (f EntitlementFilter) Empty() bool {
	return f.UUID == "" && f.Mode == "" && f.Username == "" && f.OrderNumber == ""
}

// Apply intersects the supplied constraints (AND semantics); absent fields
// add none.
func (f EntitlementFilter) Apply(db *gorm.DB) *gorm.DB {
	query := db.Model(&CourseEntitlement{})
	if f.UUID != "" {
		query = query.Where("course_entitlements.uuid = ?", f.UUID)
	}
	if f.Mode != "" {
		query = query.Where("course_entitlements.mode = ?", f.Mode)
	}
	if f.OrderNumber != "" {
		query = query.Where("course_entitlements.order_number = ?", f.OrderNumber)
	}
	if f.Username != "" {
		query = query.
			Joins("JOIN users ON users.id = course_entitlements.user_id").
			Where("users.username = ?", f.Username)
	}
	return query
}
