package config

import (
	"fmt"
	"log"

	"github.com/badoux/checkmail"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"coursebank/models"
)

// Bootstrap seeds the rows a fresh deployment needs: the default site
// configuration, its schedule toggles, and a staff account for the admin API.
// Safe to run repeatedly; existing rows are left alone.
func Bootstrap(db *gorm.DB) error {
	site := models.SiteConfiguration{
		SiteName:     AppConfig.PlatformName,
		SiteDomain:   fmt.Sprintf("%s.localhost", AppConfig.PlatformName),
		ThemeDir:     AppConfig.PlatformName,
		DefaultMode:  AppConfig.DefaultCourseMode,
		EnabledModes: "audit,verified,credit",
		Enabled:      true,
	}
	if err := db.Where("site_name = ?", site.SiteName).FirstOrCreate(&site).Error; err != nil {
		return fmt.Errorf("failed to seed site configuration: %w", err)
	}

	schedule := models.ScheduleConfig{SiteID: site.ID}
	if err := db.Where("site_id = ?", site.ID).FirstOrCreate(&schedule).Error; err != nil {
		return fmt.Errorf("failed to seed schedule config: %w", err)
	}

	if AppConfig.AdminUsername == "" {
		log.Println("No bootstrap admin configured, skipping staff account")
		return nil
	}
	if err := checkmail.ValidateFormat(AppConfig.AdminEmail); err != nil {
		return fmt.Errorf("invalid bootstrap admin email %q: %w", AppConfig.AdminEmail, err)
	}
	if AppConfig.AdminPassword == "" {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD is required when an admin username is set")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(AppConfig.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := models.User{
		Username:     AppConfig.AdminUsername,
		Email:        AppConfig.AdminEmail,
		PasswordHash: string(hash),
		IsActive:     true,
		IsStaff:      true,
	}
	if err := db.Where("username = ?", admin.Username).FirstOrCreate(&admin).Error; err != nil {
		return fmt.Errorf("failed to seed staff account: %w", err)
	}

	log.Printf("Bootstrap complete: site %q, staff account %q", site.SiteName, admin.Username)
	return nil
}
