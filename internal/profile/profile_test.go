package profile

import (
	"path/filepath"
	"strconv"
	"testing"
)

var profileEnvVars = []string{
	"LUMICHAT_SECRET",
	"LUMICHAT_SESSION_COOKIE",
	"LUMICHAT_AI_PROVIDER",
	"LUMICHAT_AI_API_KEY",
	"GOOGLE_GENERATIVE_AI_API_KEY",
	"LUMICHAT_AI_BASE_URL",
	"LUMICHAT_AI_MODEL",
	"LUMICHAT_AI_MAX_CONCURRENCY",
	"LUMICHAT_RATE_LIMIT",
	"LUMICHAT_CACHE_REDIS_ADDR",
	"LUMICHAT_CACHE_REDIS_PASSWORD",
}

// clearProfileEnv blanks every variable FromEnv reads for the duration of the test.
func clearProfileEnv(t *testing.T) {
	t.Helper()
	for _, key := range profileEnvVars {
		t.Setenv(key, "")
	}
}

func TestProfileDefaults(t *testing.T) {
	clearProfileEnv(t)

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"SessionCookie default", "lumichat.session-token", profile.SessionCookie},
		{"AIProvider default", "gemini", profile.AIProvider},
		{"AIAPIKey empty", "", profile.AIAPIKey},
		{"AIBaseURL empty", "", profile.AIBaseURL},
		{"AIModel empty", "", profile.AIModel},
		{"AIMaxConcurrency default", "16", strconv.Itoa(profile.AIMaxConcurrency)},
		{"RateLimitEnabled default", "true", strconv.FormatBool(profile.RateLimitEnabled)},
		{"CacheRedisAddr empty", "", profile.CacheRedisAddr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "LUMICHAT_AI_API_KEY",
			envVar:   "LUMICHAT_AI_API_KEY",
			envValue: "key-123",
			field:    func(p *Profile) string { return p.AIAPIKey },
			expected: "key-123",
		},
		{
			name:     "GOOGLE_GENERATIVE_AI_API_KEY fallback",
			envVar:   "GOOGLE_GENERATIVE_AI_API_KEY",
			envValue: "google-key",
			field:    func(p *Profile) string { return p.AIAPIKey },
			expected: "google-key",
		},
		{
			name:     "LUMICHAT_AI_PROVIDER",
			envVar:   "LUMICHAT_AI_PROVIDER",
			envValue: "openai",
			field:    func(p *Profile) string { return p.AIProvider },
			expected: "openai",
		},
		{
			name:     "LUMICHAT_AI_MODEL",
			envVar:   "LUMICHAT_AI_MODEL",
			envValue: "gemini-2.0-flash",
			field:    func(p *Profile) string { return p.AIModel },
			expected: "gemini-2.0-flash",
		},
		{
			name:     "LUMICHAT_AI_MAX_CONCURRENCY",
			envVar:   "LUMICHAT_AI_MAX_CONCURRENCY",
			envValue: "4",
			field:    func(p *Profile) string { return strconv.Itoa(p.AIMaxConcurrency) },
			expected: "4",
		},
		{
			name:     "invalid LUMICHAT_AI_MAX_CONCURRENCY keeps default",
			envVar:   "LUMICHAT_AI_MAX_CONCURRENCY",
			envValue: "lots",
			field:    func(p *Profile) string { return strconv.Itoa(p.AIMaxConcurrency) },
			expected: "16",
		},
		{
			name:     "LUMICHAT_RATE_LIMIT=false",
			envVar:   "LUMICHAT_RATE_LIMIT",
			envValue: "false",
			field:    func(p *Profile) string { return strconv.FormatBool(p.RateLimitEnabled) },
			expected: "false",
		},
		{
			name:     "LUMICHAT_SESSION_COOKIE",
			envVar:   "LUMICHAT_SESSION_COOKIE",
			envValue: "sid",
			field:    func(p *Profile) string { return p.SessionCookie },
			expected: "sid",
		},
		{
			name:     "LUMICHAT_CACHE_REDIS_ADDR",
			envVar:   "LUMICHAT_CACHE_REDIS_ADDR",
			envValue: "localhost:6379",
			field:    func(p *Profile) string { return p.CacheRedisAddr },
			expected: "localhost:6379",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProfileEnv(t)
			t.Setenv(tt.envVar, tt.envValue)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestProfileFromEnv_PrefersNewKey(t *testing.T) {
	clearProfileEnv(t)
	t.Setenv("LUMICHAT_AI_API_KEY", "new")
	t.Setenv("GOOGLE_GENERATIVE_AI_API_KEY", "legacy")

	profile := &Profile{}
	profile.FromEnv()

	if profile.AIAPIKey != "new" {
		t.Errorf("AIAPIKey: expected %q, got %q", "new", profile.AIAPIKey)
	}
}

func TestValidate(t *testing.T) {
	t.Run("sqlite DSN derived from data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if want := filepath.Join(dir, "lumichat_dev.db"); p.DSN != want {
			t.Errorf("DSN: expected %q, got %q", want, p.DSN)
		}
		if p.Secret != devSecret {
			t.Errorf("Secret: expected dev secret, got %q", p.Secret)
		}
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Driver: "sqlite", Data: t.TempDir()}
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if p.Mode != "demo" {
			t.Errorf("Mode: expected demo, got %q", p.Mode)
		}
	})

	t.Run("prod requires secret", func(t *testing.T) {
		p := &Profile{Mode: "prod", Driver: "sqlite", Data: t.TempDir()}
		if err := p.Validate(); err == nil {
			t.Error("Validate() expected error for missing secret in prod")
		}
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "postgres"}
		if err := p.Validate(); err == nil {
			t.Error("Validate() expected error for missing postgres dsn")
		}
	})

	t.Run("missing data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: filepath.Join(t.TempDir(), "missing")}
		if err := p.Validate(); err == nil {
			t.Error("Validate() expected error for missing data dir")
		}
	})
}
