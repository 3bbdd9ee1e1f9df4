package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort     string `mapstructure:"APP_PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Redis configuration.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisSessionDB int    `mapstructure:"REDIS_SESSION_DB"`
	RedisTasksDB   int    `mapstructure:"REDIS_TASKS_DB"`

	// WhatsApp Cloud API credentials. Per-tenant values override these.
	WhatsAppVerifyToken   string `mapstructure:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret     string `mapstructure:"WHATSAPP_APP_SECRET"`
	WhatsAppPhoneNumberID string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppToken         string `mapstructure:"WHATSAPP_TOKEN"`

	// Google AI / Cloud credentials.
	GeminiAPIKey             string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel              string `mapstructure:"GEMINI_MODEL"`
	GoogleServiceAccountFile string `mapstructure:"GOOGLE_SERVICE_ACCOUNT_FILE"`

	// Conversation tuning.
	Locale               string `mapstructure:"LOCALE"`
	Timezone             string `mapstructure:"TIMEZONE"`
	SessionPendingTTLSec int    `mapstructure:"SESSION_PENDING_TTL_SEC"`
	ReplyDedupeWindowMS  int    `mapstructure:"REPLY_DEDUPE_WINDOW_MS"`
	HistoryLimit         int    `mapstructure:"HISTORY_LIMIT"`
	ReminderLeadMinutes  int    `mapstructure:"REMINDER_LEAD_MINUTES"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_SESSION_DB", 0)
	viper.SetDefault("REDIS_TASKS_DB", 1)
	viper.SetDefault("GEMINI_MODEL", "models/gemini-1.5-pro")
	viper.SetDefault("LOCALE", "it-IT")
	viper.SetDefault("TIMEZONE", "Europe/Rome")
	viper.SetDefault("SESSION_PENDING_TTL_SEC", 600)
	viper.SetDefault("REPLY_DEDUPE_WINDOW_MS", 750)
	viper.SetDefault("HISTORY_LIMIT", 12)
	viper.SetDefault("REMINDER_LEAD_MINUTES", 120)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}
