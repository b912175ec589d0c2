package models

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CourseEnrollment is one user's enrollment in a concrete course run, as
// opposed to an entitlement, which is run-agnostic until redeemed.
type CourseEnrollment struct {
	gorm.Model
	UserID       uint   `gorm:"not null;index" json:"user_id"`
	CourseRunKey string `gorm:"not null;index" json:"course_run_key"`
	Mode         string `gorm:"not null;default:'audit'" json:"mode"`
	IsActive     bool   `gorm:"default:true" json:"is_active"`

	// Relations
	User User `json:"-"`
}

// Unenroll deactivates the user's active enrollment in the given course run.
// Refunds belong to the commerce service; skipRefund records that the caller
// explicitly opted out of triggering one.
func Unenroll(db *gorm.DB, userID uint, courseRunKey string, skipRefund bool) error {
	result := db.Model(&CourseEnrollment{}).
		Where("user_id = ? AND course_run_key = ? AND is_active = ?", userID, courseRunKey, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already inactive, or never enrolled. Unenrolling is a no-op then,
		// not a failure.
		logrus.WithFields(logrus.Fields{
			"user_id":        userID,
			"course_run_key": courseRunKey,
		}).Info("no active enrollment to deactivate")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"user_id":        userID,
		"course_run_key": courseRunKey,
		"skip_refund":    skipRefund,
	}).Info("course enrollment deactivated")
	return nil
}
