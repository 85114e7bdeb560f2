package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	SMTP      SMTPConfig
	Pairing   PairingConfig
	Call      CallConfig
	RateLimit RateLimitConfig
	FCM       FCMConfig
	APNs      APNsConfig
	Voice     VoiceConfig
}

type AppConfig struct {
	Env  string
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL (for golang-migrate)
func (d DBConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret       string
	FamilyExpiry string // duration string, e.g. "24h"
	DeviceExpiry string // duration string for device tokens issued at claim
}

// CORSConfig lists the browser origins allowed to reach the API.
// An empty list means no origin restriction.
type CORSConfig struct {
	AllowedOrigins []string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type PairingConfig struct {
	TTLSeconds int
}

type CallConfig struct {
	SessionTimeoutSeconds    int
	ReconcileIntervalSeconds int
}

type RateLimitConfig struct {
	PerWindow     int
	WindowSeconds int
}

// FCMConfig carries the service-account identity used to self-sign
// OAuth assertions for the FCM v1 HTTP API.
type FCMConfig struct {
	ProjectID      string
	ClientEmail    string
	PrivateKeyFile string // PEM, PKCS#8 RSA
	TokenURL       string
}

// APNsConfig carries the provider-token key used to sign ES256
// authentication tokens for Apple's push gateway.
type APNsConfig struct {
	KeyFile  string // PEM, PKCS#8 EC (.p8)
	KeyID    string
	TeamID   string
	BundleID string
	Sandbox  bool
}

// VoiceConfig points at the conversational-AI provider that issues
// per-call conversation tokens.
type VoiceConfig struct {
	BaseURL string
	APIKey  string
	AgentID string
}

// Load reads configuration from .env file and environment variables
func Load() *Config {
	// Load .env file (ignore error if not exists - e.g. in Docker)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading from environment variables")
	}

	return &Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "development"),
			Port: getEnv("APP_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "careline"),
			Password: getEnv("DB_PASSWORD", "careline"),
			Name:     getEnv("DB_NAME", "careline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "default-secret"),
			FamilyExpiry: getEnv("JWT_EXPIRY", "24h"),
			DeviceExpiry: getEnv("DEVICE_JWT_EXPIRY", "8760h"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitOrigins(getEnv("ALLOWED_ORIGINS", "")),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "mailpit"),
			Port:     getEnv("SMTP_PORT", "1025"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@careline.local"),
			FromName: getEnv("SMTP_FROM_NAME", "CareLine"),
		},
		Pairing: PairingConfig{
			TTLSeconds: getEnvInt("PAIRING_TTL_SECONDS", 600),
		},
		Call: CallConfig{
			SessionTimeoutSeconds:    getEnvInt("SESSION_TIMEOUT_SECONDS", 900),
			ReconcileIntervalSeconds: getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),
		},
		RateLimit: RateLimitConfig{
			PerWindow:     getEnvInt("RATE_LIMIT_PER_WINDOW", 60),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		FCM: FCMConfig{
			ProjectID:      getEnv("FCM_PROJECT_ID", ""),
			ClientEmail:    getEnv("FCM_CLIENT_EMAIL", ""),
			PrivateKeyFile: getEnv("FCM_PRIVATE_KEY_FILE", ""),
			TokenURL:       getEnv("FCM_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		},
		APNs: APNsConfig{
			KeyFile:  getEnv("APNS_KEY_FILE", ""),
			KeyID:    getEnv("APNS_KEY_ID", ""),
			TeamID:   getEnv("APNS_TEAM_ID", ""),
			BundleID: getEnv("APNS_BUNDLE_ID", "app.careline.elder"),
			Sandbox:  getEnv("APNS_SANDBOX", "false") == "true",
		},
		Voice: VoiceConfig{
			BaseURL: getEnv("VOICE_API_URL", "https://api.elevenlabs.io"),
			APIKey:  getEnv("VOICE_API_KEY", ""),
			AgentID: getEnv("VOICE_AGENT_ID", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️  Invalid integer for %s=%q, using default %d", key, value, fallback)
		return fallback
	}
	return n
}

// splitOrigins parses a comma-separated origin list; empty input means
// no restriction rather than an empty allow-list.
func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
