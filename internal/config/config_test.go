package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("JWT_REFRESH_SECRET", "test-refresh-secret-32-characters")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"AccessTokenExpiry", cfg.Auth.AccessTokenExpiry, 15 * time.Minute},
		{"RefreshTokenExpiry", cfg.Auth.RefreshTokenExpiry, 7 * 24 * time.Hour},
		{"CookieMaxAge", cfg.Auth.CookieMaxAge, 5 * 24 * time.Hour},
		{"CSRFTokenTTL", cfg.Auth.CSRFTokenTTL, 10 * time.Minute},
		{"CSRFRotateThreshold", cfg.Auth.CSRFRotateThreshold, 3 * time.Minute},
		{"CleanupInterval", cfg.Auth.CleanupInterval, time.Hour},
		{"LockoutDuration", cfg.Auth.LockoutDuration, 15 * time.Minute},
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Auth.MaxDevices != 5 {
		t.Errorf("MaxDevices: got %d, want 5", cfg.Auth.MaxDevices)
	}
	if cfg.Auth.MaxFailedLogins != 5 {
		t.Errorf("MaxFailedLogins: got %d, want 5", cfg.Auth.MaxFailedLogins)
	}
	if len(cfg.Auth.TOTPEncryptionKey) != 32 {
		t.Errorf("TOTPEncryptionKey: got %d bytes, want 32", len(cfg.Auth.TOTPEncryptionKey))
	}
	if cfg.Storage != StoragePostgres {
		t.Errorf("Storage: got %q, want %q", cfg.Storage, StoragePostgres)
	}
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("DB_PASSWORD", "test")

	t.Run("access secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		t.Setenv("JWT_REFRESH_SECRET", "test-refresh-secret-32-characters")
		if _, err := Load(); err == nil {
			t.Fatal("Load() = nil, want error for missing JWT_SECRET")
		}
	})

	t.Run("refresh secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
		t.Setenv("JWT_REFRESH_SECRET", "")
		if _, err := Load(); err == nil {
			t.Fatal("Load() = nil, want error for missing JWT_REFRESH_SECRET")
		}
	})
}

func TestLoad_SecretsMustDiffer(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("JWT_REFRESH_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for identical secrets")
	}
}

func TestLoad_DayDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REFRESH_EXPIRE", "3d")
	t.Setenv("COOKIE_EXPIRE", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.RefreshTokenExpiry != 72*time.Hour {
		t.Errorf("RefreshTokenExpiry: got %v, want 72h", cfg.Auth.RefreshTokenExpiry)
	}
	if cfg.Auth.CookieMaxAge != 48*time.Hour {
		t.Errorf("CookieMaxAge: got %v, want 48h", cfg.Auth.CookieMaxAge)
	}
}

func TestLoad_CSRFTTLCapped(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CSRF_TOKEN_TTL", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.CSRFTokenTTL != 24*time.Hour {
		t.Errorf("CSRFTokenTTL: got %v, want 24h", cfg.Auth.CSRFTokenTTL)
	}
}

func TestLoad_MemoryStorageSkipsDatabasePassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("JWT_REFRESH_SECRET", "test-refresh-secret-32-characters")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("STORAGE", "memory")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
}

func TestLoad_InvalidTOTPKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOTP_ENCRYPTION_KEY", "abcd")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for short TOTP key")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"15m", 15 * time.Minute, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"xd", 0, true},
		{"-1d", 0, true},
		{"bogus", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
