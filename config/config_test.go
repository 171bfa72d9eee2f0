package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conductord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalAnthropicConfig = `
model:
  provider: anthropic
  anthropic:
    api_key: sk-test
    default_model: claude-test
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalAnthropicConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "inmem", cfg.Store.Backend)
	require.Equal(t, "inmem", cfg.Artifacts.Backend)
	require.Equal(t, 4, cfg.Worker.PoolSize)
	require.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
	require.Equal(t, 10*time.Minute, cfg.Barrier.Deadline)
	require.Equal(t, 55*time.Second, cfg.Supervisor.Timeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, int64(4096), int64(cfg.Model.Anthropic.MaxTokens))
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_MONGO_URI", "mongodb://example/conductor")
	path := writeConfig(t, `
store:
  backend: mongo
  mongo:
    uri: "${TEST_MONGO_URI}"
model:
  provider: anthropic
  anthropic:
    api_key: sk-test
    default_model: claude-test
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mongodb://example/conductor", cfg.Store.Mongo.URI)
}

func TestLoadEnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	path := writeConfig(t, minimalAnthropicConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sk-from-env", cfg.Model.Anthropic.APIKey)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
not_a_real_field: true
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	path := writeConfig(t, minimalAnthropicConfig+"\n---\nstore:\n  backend: inmem\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "more than one YAML document")
}

func TestValidateConfigCollectsEveryIssue(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Backend: "bogus"},
		Artifacts: ArtifactsConfig{Backend: "redis"},
		Model:     ModelConfig{Provider: "anthropic"},
		Worker:    WorkerConfig{PoolSize: 0},
		Barrier:   BarrierConfig{Deadline: time.Second},
		Logging:   LoggingConfig{Level: "trace", Format: "xml"},
	}

	err := validateConfig(cfg)
	require.Error(t, err)

	var verr *ConfigValidationError
	require.ErrorAs(t, err, &verr)
	require.GreaterOrEqual(t, len(verr.Issues), 6)
}

func TestValidateConfigRequiresProviderCredentials(t *testing.T) {
	cases := []struct {
		name     string
		provider string
	}{
		{name: "anthropic", provider: "anthropic"},
		{name: "openai", provider: "openai"},
		{name: "bedrock", provider: "bedrock"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Store:     StoreConfig{Backend: "inmem"},
				Artifacts: ArtifactsConfig{Backend: "inmem"},
				Model:     ModelConfig{Provider: tt.provider},
				Worker:    WorkerConfig{PoolSize: 1},
				Barrier:   BarrierConfig{Deadline: time.Hour},
				Logging:   LoggingConfig{Level: "info", Format: "text"},
			}
			err := validateConfig(cfg)
			require.Error(t, err)
		})
	}
}

func TestValidateConfigRateLimitBounds(t *testing.T) {
	cfg := &Config{
		Store:     StoreConfig{Backend: "inmem"},
		Artifacts: ArtifactsConfig{Backend: "inmem"},
		Model:     ModelConfig{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "k", DefaultModel: "m"}},
		RateLimit: RateLimitConfig{Enabled: true, InitialTPM: 1000, MaxTPM: 100},
		Worker:    WorkerConfig{PoolSize: 1},
		Barrier:   BarrierConfig{Deadline: time.Hour},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
	err := validateConfig(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate_limit.max_tpm")
}
