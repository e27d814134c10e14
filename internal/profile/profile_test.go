package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONCIERGE_JWT_SECRET", "CONCIERGE_FUNCTIONS_URL", "CONCIERGE_REDIS_ADDR",
		"CONCIERGE_SEND_COOLDOWN", "CONCIERGE_POLL_INTERVAL", "CONCIERGE_HANDSHAKE_TIMEOUT",
		"CONCIERGE_SETTINGS_TTL", "CONCIERGE_AI_ENABLED", "CONCIERGE_AI_API_KEY",
		"CONCIERGE_AI_BASE_URL", "CONCIERGE_AI_MODEL",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, 3*time.Second, p.SendCooldown)
	assert.Equal(t, 7*time.Second, p.PollInterval)
	assert.Equal(t, 10*time.Second, p.HandshakeTimeout)
	assert.Equal(t, 60*time.Second, p.SettingsTTL)
	assert.False(t, p.AIEnabled)
	assert.Equal(t, "https://api.openai.com/v1", p.AIBaseURL)
	assert.Equal(t, "gpt-4o-mini", p.AIModel)
	assert.False(t, p.IsAIEnabled())
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		field    func(*Profile) any
		expected any
	}{
		{"jwt secret", "CONCIERGE_JWT_SECRET", "s3cret", func(p *Profile) any { return p.JWTSecret }, "s3cret"},
		{"redis addr", "CONCIERGE_REDIS_ADDR", "localhost:6379", func(p *Profile) any { return p.RedisAddr }, "localhost:6379"},
		{"cooldown", "CONCIERGE_SEND_COOLDOWN", "5s", func(p *Profile) any { return p.SendCooldown }, 5 * time.Second},
		{"poll interval", "CONCIERGE_POLL_INTERVAL", "2s", func(p *Profile) any { return p.PollInterval }, 2 * time.Second},
		{"invalid duration keeps default", "CONCIERGE_SETTINGS_TTL", "soon", func(p *Profile) any { return p.SettingsTTL }, DefaultSettingsTTL},
		{"negative duration keeps default", "CONCIERGE_HANDSHAKE_TIMEOUT", "-1s", func(p *Profile) any { return p.HandshakeTimeout }, DefaultHandshakeTimeout},
		{"ai enabled", "CONCIERGE_AI_ENABLED", "true", func(p *Profile) any { return p.AIEnabled }, true},
		{"ai model", "CONCIERGE_AI_MODEL", "gpt-4.1", func(p *Profile) any { return p.AIModel }, "gpt-4.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			p := &Profile{}
			p.FromEnv()
			assert.Equal(t, tt.expected, tt.field(p))
		})
	}
}

func TestIsAIEnabled(t *testing.T) {
	assert.False(t, (&Profile{AIEnabled: true}).IsAIEnabled())
	assert.False(t, (&Profile{AIAPIKey: "k"}).IsAIEnabled())
	assert.True(t, (&Profile{AIEnabled: true, AIAPIKey: "k"}).IsAIEnabled())
}

func TestValidate(t *testing.T) {
	t.Run("sqlite dsn defaults into data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
		require.NoError(t, p.Validate())
		assert.Equal(t, filepath.Join(dir, "concierge_dev.db"), p.DSN)
		assert.NotEmpty(t, p.JWTSecret)
		assert.Equal(t, DefaultSendCooldown, p.SendCooldown)
		assert.Equal(t, DefaultPollInterval, p.PollInterval)
	})

	t.Run("unknown mode becomes demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
		assert.Equal(t, "sqlite", p.Driver)
	})

	t.Run("missing data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: filepath.Join(t.TempDir(), "missing")}
		assert.Error(t, p.Validate())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "postgres"}
		assert.Error(t, p.Validate())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "mysql"}
		assert.Error(t, p.Validate())
	})

	t.Run("prod requires jwt secret", func(t *testing.T) {
		p := &Profile{Mode: "prod", Driver: "postgres", DSN: "postgres://localhost/concierge"}
		assert.Error(t, p.Validate())
		p.JWTSecret = "s3cret"
		require.NoError(t, p.Validate())
	})

	t.Run("functions url falls back to instance url", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), InstanceURL: "http://localhost:8081"}
		require.NoError(t, p.Validate())
		assert.Equal(t, "http://localhost:8081", p.FunctionsURL)
	})
}
