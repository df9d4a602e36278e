package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where lumichat stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Secret signs and verifies session tokens issued by the identity provider.
	Secret string // LUMICHAT_SECRET
	// SessionCookie is the name of the cookie carrying the session token.
	SessionCookie string // LUMICHAT_SESSION_COOKIE (default: lumichat.session-token)

	// AI Configuration
	AIProvider       string // LUMICHAT_AI_PROVIDER (default: gemini)
	AIAPIKey         string // LUMICHAT_AI_API_KEY (legacy: GOOGLE_GENERATIVE_AI_API_KEY)
	AIBaseURL        string // LUMICHAT_AI_BASE_URL (default: provider specific)
	AIModel          string // LUMICHAT_AI_MODEL (default: provider specific)
	AIMaxConcurrency int    // LUMICHAT_AI_MAX_CONCURRENCY (default: 16)

	// RateLimitEnabled turns on per-user limiting of chat requests.
	RateLimitEnabled bool // LUMICHAT_RATE_LIMIT (default: true)

	// CacheRedisAddr enables the Redis L2 conversation cache when set.
	CacheRedisAddr     string // LUMICHAT_CACHE_REDIS_ADDR
	CacheRedisPassword string // LUMICHAT_CACHE_REDIS_PASSWORD
}

const (
	defaultSessionCookie    = "lumichat.session-token"
	defaultAIProvider       = "gemini"
	defaultAIMaxConcurrency = 16
	devSecret               = "lumichat"
)

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// The provider API key also honors GOOGLE_GENERATIVE_AI_API_KEY, the variable
// used by earlier deployments.
func (p *Profile) FromEnv() {
	getEnvWithFallback := func(newKey, legacyKey string) string {
		if val := os.Getenv(newKey); val != "" {
			return val
		}
		return os.Getenv(legacyKey)
	}

	getBoolEnvWithDefault := func(key string, defaultValue bool) bool {
		val := os.Getenv(key)
		if val == "" {
			return defaultValue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			slog.Warn("invalid boolean environment variable", slog.String("key", key), slog.String("value", val))
			return defaultValue
		}
		return b
	}

	getIntEnvWithDefault := func(key string, defaultValue int) int {
		val := os.Getenv(key)
		if val == "" {
			return defaultValue
		}
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			slog.Warn("invalid integer environment variable", slog.String("key", key), slog.String("value", val))
			return defaultValue
		}
		return n
	}

	if p.Secret == "" {
		p.Secret = os.Getenv("LUMICHAT_SECRET")
	}
	p.SessionCookie = getEnvOrDefault("LUMICHAT_SESSION_COOKIE", defaultSessionCookie)

	p.AIProvider = getEnvOrDefault("LUMICHAT_AI_PROVIDER", defaultAIProvider)
	p.AIAPIKey = getEnvWithFallback("LUMICHAT_AI_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY")
	p.AIBaseURL = os.Getenv("LUMICHAT_AI_BASE_URL")
	p.AIModel = os.Getenv("LUMICHAT_AI_MODEL")
	p.AIMaxConcurrency = getIntEnvWithDefault("LUMICHAT_AI_MAX_CONCURRENCY", defaultAIMaxConcurrency)

	p.RateLimitEnabled = getBoolEnvWithDefault("LUMICHAT_RATE_LIMIT", true)

	p.CacheRedisAddr = os.Getenv("LUMICHAT_CACHE_REDIS_ADDR")
	p.CacheRedisPassword = os.Getenv("LUMICHAT_CACHE_REDIS_PASSWORD")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Secret == "" {
		if p.Mode == "prod" {
			return errors.New("LUMICHAT_SECRET is required in prod mode")
		}
		p.Secret = devSecret
	}
	if p.SessionCookie == "" {
		p.SessionCookie = defaultSessionCookie
	}
	if p.AIProvider == "" {
		p.AIProvider = defaultAIProvider
	}
	if p.AIMaxConcurrency <= 0 {
		p.AIMaxConcurrency = defaultAIMaxConcurrency
	}

	if p.Driver == "postgres" {
		if p.DSN == "" {
			return errors.New("dsn is required for the postgres driver")
		}
		return nil
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "lumichat")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/lumichat"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("lumichat_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
