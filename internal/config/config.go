package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Storage  string
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
	Geo      GeoConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	JWTRefreshSecret    string
	Issuer              string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	CookieMaxAge        time.Duration // refreshToken, deviceKey and sessionVersion cookies
	CookieDomain        string
	CSRFTokenTTL        time.Duration
	CSRFRotateThreshold time.Duration
	CleanupInterval     time.Duration
	MaxDevices          int
	MaxFailedLogins     int
	LockoutDuration     time.Duration
	LoginRateLimit      int // requests per minute per IP on signup/login
	TOTPEncryptionKey   []byte
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

type GeoConfig struct {
	LookupURL string // empty disables lookups
	Timeout   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	refreshSecret := getEnv("JWT_REFRESH_SECRET", "")
	if refreshSecret == "" {
		return nil, fmt.Errorf("JWT_REFRESH_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Storage: strings.ToLower(getEnv("STORAGE", StoragePostgres)),
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sessioncore"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			JWTRefreshSecret:    refreshSecret,
			Issuer:              getEnv("JWT_ISSUER", "sessioncore"),
			AccessTokenExpiry:   getEnvAsDuration("JWT_EXPIRE", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_EXPIRE", 7*24*time.Hour),
			CookieMaxAge:        time.Duration(getEnvAsInt("COOKIE_EXPIRE", 5)) * 24 * time.Hour,
			CookieDomain:        getEnv("COOKIE_DOMAIN", ""),
			CSRFTokenTTL:        getEnvAsDuration("CSRF_TOKEN_TTL", 10*time.Minute),
			CSRFRotateThreshold: getEnvAsDuration("CSRF_ROTATE_THRESHOLD", 3*time.Minute),
			CleanupInterval:     getEnvAsDuration("CSRF_CLEANUP_INTERVAL", 1*time.Hour),
			MaxDevices:          getEnvAsInt("MAX_DEVICES", 5),
			MaxFailedLogins:     getEnvAsInt("MAX_FAILED_LOGINS", 5),
			LockoutDuration:     getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			LoginRateLimit:      getEnvAsInt("LOGIN_RATE_LIMIT", 10),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ALERTS", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM", "security@localhost"),
		},
		Geo: GeoConfig{
			LookupURL: getEnv("GEO_LOOKUP_URL", ""),
			Timeout:   getEnvAsDuration("GEO_LOOKUP_TIMEOUT", 3*time.Second),
		},
	}

	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q (got %q)", StoragePostgres, StorageMemory, cfg.Storage)
	}

	if cfg.Storage == StoragePostgres && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret("JWT_SECRET", jwtSecret, env); err != nil {
		return nil, err
	}
	if err := validateJWTSecret("JWT_REFRESH_SECRET", refreshSecret, env); err != nil {
		return nil, err
	}
	if jwtSecret == refreshSecret {
		return nil, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// CSRF tokens never outlive a day
	if cfg.Auth.CSRFTokenTTL <= 0 || cfg.Auth.CSRFTokenTTL > 24*time.Hour {
		cfg.Auth.CSRFTokenTTL = 24 * time.Hour
	}
	if cfg.Auth.CSRFRotateThreshold >= cfg.Auth.CSRFTokenTTL {
		return nil, fmt.Errorf("CSRF_ROTATE_THRESHOLD must be shorter than CSRF_TOKEN_TTL")
	}

	key, err := totpEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""), jwtSecret)
	if err != nil {
		return nil, err
	}
	cfg.Auth.TOTPEncryptionKey = key

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for a signing secret
func validateJWTSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

// totpEncryptionKey decodes a 32-byte hex key, or derives one from the
// access secret when unset.
func totpEncryptionKey(raw, fallback string) ([]byte, error) {
	if raw == "" {
		sum := sha256.Sum256([]byte("totp:" + fallback))
		return sum[:], nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseDuration extends time.ParseDuration with a whole-day suffix ("7d").
func ParseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
