package utils

import (
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"coursebank/models"
)

// Runtime services are looked up by name by features that are compiled in but
// only switched on per deployment. The special-exams integration resolves the
// credit service this way at startup.
var (
	runtimeMu       sync.RWMutex
	runtimeServices = make(map[string]interface{})
)

// SetRuntimeService registers a named service, replacing any previous one.
func SetRuntimeService(name string, service interface{}) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeServices[name] = service
}

// GetRuntimeService returns the named service, or nil if none is registered.
func GetRuntimeService(name string) interface{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	return runtimeServices[name]
}

// CreditService answers credit-eligibility questions for the special-exams
// runtime.
type CreditService struct {
	DB *gorm.DB
}

// HasActiveCreditEntitlement reports whether the user holds an unexpired
// credit-mode entitlement for the course.
func (s CreditService) HasActiveCreditEntitlement(userID uint, courseUUID uuid.UUID) (bool, error) {
	var count int64
	err := s.DB.Model(&models.CourseEntitlement{}).
		Where("user_id = ? AND course_uuid = ? AND mode = ? AND expired_at IS NULL",
			userID, courseUUID, "credit").
		Count(&count).Error
	return count > 0, err
}
