package models

import (
	"gorm.io/gorm"
)

// SiteConfiguration carries per-site theming and enrollment defaults. One row
// per site; the bootstrap flow seeds the default site.
type SiteConfiguration struct {
	gorm.Model
	SiteName   string `gorm:"uniqueIndex;not null" json:"site_name"`
	SiteDomain string `json:"site_domain"`
	ThemeDir   string `json:"theme_dir"`

	// Mode applied when an entitlement grant does not name one.
	DefaultMode string `gorm:"size:100;default:'audit'" json:"default_mode"`

	// Comma-separated list of modes the site sells.
	EnabledModes string `json:"enabled_modes"`

	Enabled bool `gorm:"default:true" json:"enabled"`
}

// ScheduleConfig switches the schedule experience per site.
type ScheduleConfig struct {
	gorm.Model
	SiteID uint `gorm:"not null;index" json:"site_id"`

	Enabled               bool `gorm:"default:false" json:"enabled"`
	CreateSchedules       bool `gorm:"default:false" json:"create_schedules"`
	EnqueueRecurringNudge bool `gorm:"default:false" json:"enqueue_recurring_nudge"`
	DeliverRecurringNudge bool `gorm:"default:false" json:"deliver_recurring_nudge"`

	// Staff account that last changed the row, when known.
	ChangedByID *uint `json:"changed_by_id"`
}
