package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coursebank/models"
)

func TestRuntimeServiceRegistry(t *testing.T) {
	require.Nil(t, GetRuntimeService("missing"))

	SetRuntimeService("credit", CreditService{})
	service, ok := GetRuntimeService("credit").(CreditService)
	require.True(t, ok)
	require.NotNil(t, service)
}

func TestHasActiveCreditEntitlement(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.CourseEnrollment{}, &models.CourseEntitlement{}))

	user := models.User{Username: "bob", Email: "bob@example.com", PasswordHash: "x", IsActive: true}
	require.NoError(t, db.Create(&user).Error)
	courseUUID := uuid.New()

	service := CreditService{DB: db}

	eligible, err := service.HasActiveCreditEntitlement(user.ID, courseUUID)
	require.NoError(t, err)
	require.False(t, eligible)

	ent, _, err := models.GrantEntitlement(db, &user, courseUUID, "credit", "EDX-1001")
	require.NoError(t, err)

	eligible, err = service.HasActiveCreditEntitlement(user.ID, courseUUID)
	require.NoError(t, err)
	require.True(t, eligible)

	// expired entitlements do not count
	now := time.Now().UTC()
	require.NoError(t, db.Model(ent).Update("expired_at", now).Error)
	eligible, err = service.HasActiveCreditEntitlement(user.ID, courseUUID)
	require.NoError(t, err)
	require.False(t, eligible)
}
