package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"coursebank/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// VideoPipelineConfig points at the transcript pipeline the platform pushes
// third-party transcription credentials to.
type VideoPipelineConfig struct {
	Enabled      bool   `json:"enabled"`
	APIURL       string `json:"api_url"`
	ServiceToken string `json:"-"`
}

type Config struct {
	Environment  string `json:"environment"`
	ServerPort   string `json:"server_port"`
	PlatformName string `json:"platform_name"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret          string `json:"-"`
	JWTExpirationHours int    `json:"jwt_expiration_hours"`

	SentryDSN string `json:"-"`

	StripeSecretKey     string `json:"-"`
	StripeWebhookSecret string `json:"-"`

	// Mode applied to grants that do not name one.
	DefaultCourseMode string `json:"default_course_mode"`

	// When set, main registers the credit runtime service at startup.
	EnableSpecialExams bool `json:"enable_special_exams"`

	RateLimitAdminAPI int `json:"rate_limit_admin_api"`

	Redis         RedisConfig         `json:"redis"`
	VideoPipeline VideoPipelineConfig `json:"video_pipeline"`

	// Bootstrap staff account, consumed by the -bootstrap flow only.
	AdminUsername string `json:"admin_username"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"-"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		ServerPort:   getEnv("SERVER_PORT", "5000"),
		PlatformName: getEnv("PLATFORM_NAME", "coursebank"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "coursebank"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 12),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		DefaultCourseMode:  getEnv("DEFAULT_COURSE_MODE", "audit"),
		EnableSpecialExams: getEnvAsBool("ENABLE_SPECIAL_EXAMS", false),

		RateLimitAdminAPI: getEnvAsInt("RATE_LIMIT_ADMIN_API", 120),

		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		VideoPipeline: VideoPipelineConfig{
			Enabled:      getEnvAsBool("VIDEO_PIPELINE_ENABLED", false),
			APIURL:       getEnv("VIDEO_PIPELINE_API_URL", ""),
			ServiceToken: getEnv("VIDEO_PIPELINE_SERVICE_TOKEN", ""),
		},

		AdminUsername: getEnv("BOOTSTRAP_ADMIN_USERNAME", ""),
		AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
		AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.VideoPipeline.Enabled && AppConfig.VideoPipeline.APIURL == "" {
		return fmt.Errorf("VIDEO_PIPELINE_API_URL is required when the pipeline is enabled")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Successfully connected to the database")
	log.Println("Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// MigrateDB creates or updates the schema for every model the service owns.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.CourseEnrollment{},
		&models.CourseEntitlement{},
		&models.SiteConfiguration{},
		&models.ScheduleConfig{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Default course mode: %s", AppConfig.DefaultCourseMode)
	log.Printf("Integrations: stripe(%t), redis(%t), video-pipeline(%t), sentry(%t)",
		AppConfig.StripeSecretKey != "",
		AppConfig.Redis.Enabled,
		AppConfig.VideoPipeline.Enabled,
		AppConfig.SentryDSN != "")
}
