package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultSendCooldown     = 3 * time.Second
	DefaultPollInterval     = 7 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSettingsTTL      = 60 * time.Second
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
	// DSN points to where concierge stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// InstanceURL is the public url of this instance.
	InstanceURL string

	// JWTSecret signs and verifies bearer tokens (HS256).
	JWTSecret string // CONCIERGE_JWT_SECRET
	// FunctionsURL is the base url the client uses to reach the send endpoint.
	FunctionsURL string // CONCIERGE_FUNCTIONS_URL (default: InstanceURL)
	// RedisAddr enables the shared send cooldown when set.
	RedisAddr string // CONCIERGE_REDIS_ADDR

	SendCooldown     time.Duration // CONCIERGE_SEND_COOLDOWN (default: 3s)
	PollInterval     time.Duration // CONCIERGE_POLL_INTERVAL (default: 7s)
	HandshakeTimeout time.Duration // CONCIERGE_HANDSHAKE_TIMEOUT (default: 10s)
	SettingsTTL      time.Duration // CONCIERGE_SETTINGS_TTL (default: 60s)

	// AI Configuration
	AIEnabled bool   // CONCIERGE_AI_ENABLED
	AIAPIKey  string // CONCIERGE_AI_API_KEY
	AIBaseURL string // CONCIERGE_AI_BASE_URL (default: https://api.openai.com/v1)
	AIModel   string // CONCIERGE_AI_MODEL (default: gpt-4o-mini)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and an API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && p.AIAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv parses key as a time.Duration, keeping defaultValue on a
// missing or malformed value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration", slog.String("key", key), slog.String("value", raw))
		return defaultValue
	}
	return d
}

// FromEnv loads the CONCIERGE_* variables that have no command line flag.
func (p *Profile) FromEnv() {
	p.JWTSecret = getEnvOrDefault("CONCIERGE_JWT_SECRET", p.JWTSecret)
	p.FunctionsURL = getEnvOrDefault("CONCIERGE_FUNCTIONS_URL", p.FunctionsURL)
	p.RedisAddr = getEnvOrDefault("CONCIERGE_REDIS_ADDR", p.RedisAddr)

	p.SendCooldown = getDurationEnv("CONCIERGE_SEND_COOLDOWN", DefaultSendCooldown)
	p.PollInterval = getDurationEnv("CONCIERGE_POLL_INTERVAL", DefaultPollInterval)
	p.HandshakeTimeout = getDurationEnv("CONCIERGE_HANDSHAKE_TIMEOUT", DefaultHandshakeTimeout)
	p.SettingsTTL = getDurationEnv("CONCIERGE_SETTINGS_TTL", DefaultSettingsTTL)

	p.AIEnabled = os.Getenv("CONCIERGE_AI_ENABLED") == "true"
	p.AIAPIKey = os.Getenv("CONCIERGE_AI_API_KEY")
	p.AIBaseURL = getEnvOrDefault("CONCIERGE_AI_BASE_URL", "https://api.openai.com/v1")
	p.AIModel = getEnvOrDefault("CONCIERGE_AI_MODEL", "gpt-4o-mini")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
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
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/concierge"
	}
	if p.Data == "" {
		p.Data = "."
	}

	if p.Driver == "sqlite" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("concierge_%s.db", p.Mode))
		}
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	if p.JWTSecret == "" {
		if !p.IsDev() {
			return errors.New("jwt secret is required in prod mode")
		}
		p.JWTSecret = "concierge-dev-secret"
		slog.Warn("using the development jwt secret")
	}
	if p.FunctionsURL == "" {
		p.FunctionsURL = p.InstanceURL
	}

	if p.SendCooldown <= 0 {
		p.SendCooldown = DefaultSendCooldown
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.HandshakeTimeout <= 0 {
		p.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if p.SettingsTTL <= 0 {
		p.SettingsTTL = DefaultSettingsTTL
	}
	return nil
}
