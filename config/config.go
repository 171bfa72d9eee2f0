// Package config loads and validates conductord's process configuration: a
// single YAML file describing which store/artifact backends to bind, which
// model provider to drive the engine with, and the timeouts/pool sizes the
// supervisor, worker pool, and barrier reaper run under.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of conductord's configuration file.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Events     EventsConfig     `yaml:"events"`
	Model      ModelConfig      `yaml:"model"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Engine     EngineConfig     `yaml:"engine"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Worker     WorkerConfig     `yaml:"worker"`
	Barrier    BarrierConfig    `yaml:"barrier"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds conductord's listen address. It is loaded and
// defaulted, but conductord opens no listener of its own.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StoreConfig selects and configures the run/thread/worker-job/barrier/event
// persistence backend.
type StoreConfig struct {
	// Backend is "mongo" or "inmem". inmem is only suitable for a single
	// process and is lost on restart; it exists for local development and
	// tests.
	Backend string      `yaml:"backend"`
	Mongo   MongoConfig `yaml:"mongo"`
}

// MongoConfig configures the Mongo-backed store.
type MongoConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArtifactsConfig selects and configures the worker artifact blob store
// (each worker's result and metadata blobs, which the get_worker_evidence
// tool reads back by worker ID).
type ArtifactsConfig struct {
	// Backend is "redis" or "inmem".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis-backed artifact store. conductord also
// dials Addr for the Pulse replicated map behind the shared rate limiter;
// the Pulse event stream uses Events.StreamAddr instead.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig configures run event durability and SSE replay.
type EventsConfig struct {
	// Durable wraps the in-process bus in a DurableBus that appends every
	// event to the store.EventStore log. False means events only reach
	// subscribers that are connected at publish time.
	Durable bool `yaml:"durable"`
	// Pulse mirrors durable events onto a goa.design/pulse stream so a
	// reconnecting SSE client can replay events it missed. Requires Durable.
	Pulse       bool   `yaml:"pulse"`
	StreamAddr  string `yaml:"stream_addr"`
	StreamGroup string `yaml:"stream_group"`
}

// ModelConfig selects and configures the model.Client implementation the
// engine calls.
type ModelConfig struct {
	// Provider is "anthropic", "openai", or "bedrock".
	Provider  string          `yaml:"provider"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
}

// AnthropicConfig configures modelclient.Anthropic.
type AnthropicConfig struct {
	APIKey         string  `yaml:"api_key"`
	DefaultModel   string  `yaml:"default_model"`
	HighModel      string  `yaml:"high_model"`
	SmallModel     string  `yaml:"small_model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	ThinkingBudget int64   `yaml:"thinking_budget"`
}

// OpenAIConfig configures modelclient.OpenAI.
type OpenAIConfig struct {
	APIKey       string  `yaml:"api_key"`
	DefaultModel string  `yaml:"default_model"`
	HighModel    string  `yaml:"high_model"`
	SmallModel   string  `yaml:"small_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

// BedrockConfig configures modelclient.Bedrock.
type BedrockConfig struct {
	Region       string  `yaml:"region"`
	DefaultModel string  `yaml:"default_model"`
	HighModel    string  `yaml:"high_model"`
	SmallModel   string  `yaml:"small_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float32 `yaml:"temperature"`
}

// RateLimitConfig configures the modelclient.AdaptiveRateLimiter middleware
// wrapping whichever model.Client is selected above.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// InitialTPM and MaxTPM bound the adaptive tokens-per-minute budget.
	InitialTPM float64 `yaml:"initial_tpm"`
	MaxTPM     float64 `yaml:"max_tpm"`
	// Cluster coordinates the budget across processes via a Pulse
	// replicated map keyed by Key, instead of a process-local limiter.
	Cluster bool   `yaml:"cluster"`
	Key     string `yaml:"key"`
}

// EngineConfig configures the ReAct engine's deterministic context trimming.
type EngineConfig struct {
	MaxUserTurns  int `yaml:"max_user_turns"`
	MaxCharBudget int `yaml:"max_char_budget"`
}

// SupervisorConfig configures the supervisor lifecycle service.
type SupervisorConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	ToolAllowlist []string      `yaml:"tool_allowlist"`
}

// WorkerConfig configures the worker job processor and its pool.
type WorkerConfig struct {
	PoolSize      int           `yaml:"pool_size"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ToolAllowlist []string      `yaml:"tool_allowlist"`
}

// BarrierConfig configures the deadline reaper. ReaperSchedule sets its cron
// schedule. Deadline is only validated against Supervisor.Timeout; the
// coordinator stamps barrier.DefaultDeadline on every barrier regardless.
type BarrierConfig struct {
	Deadline       time.Duration `yaml:"deadline"`
	ReaperSchedule string        `yaml:"reaper_schedule"`
}

// LoggingConfig holds the log level and format. Both are defaulted and
// validated at load time; conductord does not apply them to its logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// ConfigValidationError reports every configuration problem found in one
// pass, rather than stopping at the first.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads, decodes, env-overrides, defaults, and validates the
// configuration file at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s contains more than one YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deploy tooling inject secrets and endpoints without
// templating the YAML file itself: the listen address, Mongo URI, Redis
// address and password, provider API keys, and (when unset) the Bedrock
// region.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTORD_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("CONDUCTORD_MONGO_URI"); v != "" {
		cfg.Store.Mongo.URI = v
	}
	if v := os.Getenv("CONDUCTORD_REDIS_ADDR"); v != "" {
		cfg.Artifacts.Redis.Addr = v
	}
	if v := os.Getenv("CONDUCTORD_REDIS_PASSWORD"); v != "" {
		cfg.Artifacts.Redis.Password = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Model.OpenAI.APIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Model.Bedrock.Region == "" {
		cfg.Model.Bedrock.Region = v
	}
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyArtifactsDefaults(&cfg.Artifacts)
	applyModelDefaults(&cfg.Model)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyEngineDefaults(&cfg.Engine)
	applySupervisorDefaults(&cfg.Supervisor)
	applyWorkerDefaults(&cfg.Worker)
	applyBarrierDefaults(&cfg.Barrier)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(c *ServerConfig) {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
}

func applyStoreDefaults(c *StoreConfig) {
	if c.Backend == "" {
		c.Backend = "inmem"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "conductor"
	}
	if c.Mongo.Timeout <= 0 {
		c.Mongo.Timeout = 5 * time.Second
	}
}

func applyArtifactsDefaults(c *ArtifactsConfig) {
	if c.Backend == "" {
		c.Backend = "inmem"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "conductor:artifact:"
	}
}

func applyModelDefaults(c *ModelConfig) {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.Anthropic.MaxTokens <= 0 {
		c.Anthropic.MaxTokens = 4096
	}
	if c.OpenAI.MaxTokens <= 0 {
		c.OpenAI.MaxTokens = 4096
	}
	if c.Bedrock.MaxTokens <= 0 {
		c.Bedrock.MaxTokens = 4096
	}
}

func applyRateLimitDefaults(c *RateLimitConfig) {
	if c.InitialTPM <= 0 {
		c.InitialTPM = 60000
	}
	if c.MaxTPM <= 0 {
		c.MaxTPM = c.InitialTPM
	}
	if c.Cluster && c.Key == "" {
		c.Key = "conductor:ratelimit:tpm"
	}
}

func applyEngineDefaults(c *EngineConfig) {
	if c.MaxUserTurns <= 0 && c.MaxCharBudget <= 0 {
		c.MaxUserTurns = 40
		c.MaxCharBudget = 200_000
	}
}

func applySupervisorDefaults(c *SupervisorConfig) {
	if c.Timeout <= 0 {
		c.Timeout = 55 * time.Second
	}
}

func applyWorkerDefaults(c *WorkerConfig) {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if len(c.ToolAllowlist) == 0 {
		c.ToolAllowlist = []string{"get_current_time", "get_worker_evidence"}
	}
}

func applyBarrierDefaults(c *BarrierConfig) {
	if c.Deadline <= 0 {
		c.Deadline = 10 * time.Minute
	}
	if c.ReaperSchedule == "" {
		c.ReaperSchedule = "*/30 * * * * *"
	}
}

func applyLoggingDefaults(c *LoggingConfig) {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// validateConfig accumulates every problem it finds rather than stopping at
// the first, so a misconfigured deploy gets one complete error message.
func validateConfig(cfg *Config) error {
	var issues []string

	if !validStoreBackend(cfg.Store.Backend) {
		issues = append(issues, fmt.Sprintf("store.backend: unsupported value %q (must be mongo or inmem)", cfg.Store.Backend))
	}
	if cfg.Store.Backend == "mongo" && cfg.Store.Mongo.URI == "" {
		issues = append(issues, "store.mongo.uri is required when store.backend is mongo")
	}

	if !validArtifactsBackend(cfg.Artifacts.Backend) {
		issues = append(issues, fmt.Sprintf("artifacts.backend: unsupported value %q (must be redis or inmem)", cfg.Artifacts.Backend))
	}
	if cfg.Artifacts.Backend == "redis" && cfg.Artifacts.Redis.Addr == "" {
		issues = append(issues, "artifacts.redis.addr is required when artifacts.backend is redis")
	}

	if cfg.Events.Pulse && !cfg.Events.Durable {
		issues = append(issues, "events.pulse requires events.durable")
	}
	if cfg.Events.Pulse && cfg.Events.StreamAddr == "" {
		issues = append(issues, "events.stream_addr is required when events.pulse is enabled")
	}

	if !validModelProvider(cfg.Model.Provider) {
		issues = append(issues, fmt.Sprintf("model.provider: unsupported value %q (must be anthropic, openai, or bedrock)", cfg.Model.Provider))
	}
	switch cfg.Model.Provider {
	case "anthropic":
		if cfg.Model.Anthropic.APIKey == "" {
			issues = append(issues, "model.anthropic.api_key is required when model.provider is anthropic")
		}
		if cfg.Model.Anthropic.DefaultModel == "" {
			issues = append(issues, "model.anthropic.default_model is required when model.provider is anthropic")
		}
	case "openai":
		if cfg.Model.OpenAI.APIKey == "" {
			issues = append(issues, "model.openai.api_key is required when model.provider is openai")
		}
		if cfg.Model.OpenAI.DefaultModel == "" {
			issues = append(issues, "model.openai.default_model is required when model.provider is openai")
		}
	case "bedrock":
		if cfg.Model.Bedrock.Region == "" {
			issues = append(issues, "model.bedrock.region is required when model.provider is bedrock")
		}
		if cfg.Model.Bedrock.DefaultModel == "" {
			issues = append(issues, "model.bedrock.default_model is required when model.provider is bedrock")
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.MaxTPM < cfg.RateLimit.InitialTPM {
		issues = append(issues, "rate_limit.max_tpm must be >= rate_limit.initial_tpm")
	}
	if cfg.RateLimit.Cluster && !cfg.RateLimit.Enabled {
		issues = append(issues, "rate_limit.cluster requires rate_limit.enabled")
	}

	if cfg.Worker.PoolSize < 1 {
		issues = append(issues, "worker.pool_size must be >= 1")
	}
	if cfg.Barrier.Deadline < cfg.Supervisor.Timeout {
		issues = append(issues, "barrier.deadline should be >= supervisor.timeout, or a slow worker batch can reap before the supervisor even times out waiting on it")
	}

	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, fmt.Sprintf("logging.level: unsupported value %q", cfg.Logging.Level))
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, fmt.Sprintf("logging.format: unsupported value %q (must be text or json)", cfg.Logging.Format))
	}

	if len(issues) > 0 {
		sort.Strings(issues)
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validStoreBackend(s string) bool     { return s == "mongo" || s == "inmem" }
func validArtifactsBackend(s string) bool { return s == "redis" || s == "inmem" }
func validModelProvider(s string) bool    { return s == "anthropic" || s == "openai" || s == "bedrock" }
func validLogFormat(s string) bool        { return s == "text" || s == "json" }

func validLogLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
