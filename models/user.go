package models

import (
	"gorm.io/gorm"
)

// User represents a platform account. Entitlement management is restricted to
// staff accounts; everyone else only ever appears as an entitlement owner.
type User struct {
	gorm.Model

	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`
	IsStaff  bool `gorm:"default:false" json:"is_staff"`

	// Relations
	Entitlements []CourseEntitlement `gorm:"foreignKey:UserID" json:"entitlements,omitempty"`
	Enrollments  []CourseEnrollment  `gorm:"foreignKey:UserID" json:"enrollments,omitempty"`
}

// FindUserByUsername resolves a username to its account.
func FindUserByUsername(db *gorm.DB, username string) (*User, error) {
	var user User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
