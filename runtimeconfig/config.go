// Package runtimeconfig loads engine defaults from a YAML or JSON
// file plus environment overrides. It exists so deployments can tune
// retry, limits, and storage without recompiling.
package runtimeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const envPrefix = "AGENTENGINE_"

type Config struct {
	SystemPrompt string   `yaml:"systemPrompt" json:"systemPrompt"`
	Tools        []string `yaml:"tools" json:"tools"`

	EndStrategy   string `yaml:"endStrategy" json:"endStrategy"`
	MaxIterations int    `yaml:"maxIterations" json:"maxIterations"`

	Retry  RetryConfig  `yaml:"retry" json:"retry"`
	Limits LimitsConfig `yaml:"limits" json:"limits"`
	Store  StoreConfig  `yaml:"store" json:"store"`

	ToolTimeout        time.Duration `yaml:"toolTimeout" json:"toolTimeout"`
	ParallelTools      bool          `yaml:"parallelTools" json:"parallelTools"`
	MaxConcurrentTools int           `yaml:"maxConcurrentTools" json:"maxConcurrentTools"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay" json:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay" json:"maxDelay"`
	MaxElapsed  time.Duration `yaml:"maxElapsed" json:"maxElapsed"`
}

type LimitsConfig struct {
	MaxRequests     int64 `yaml:"maxRequests" json:"maxRequests"`
	MaxInputTokens  int64 `yaml:"maxInputTokens" json:"maxInputTokens"`
	MaxOutputTokens int64 `yaml:"maxOutputTokens" json:"maxOutputTokens"`
	MaxTotalTokens  int64 `yaml:"maxTotalTokens" json:"maxTotalTokens"`
	MaxToolCalls    int64 `yaml:"maxToolCalls" json:"maxToolCalls"`
}

type StoreConfig struct {
	// Kind selects the backend: "memory", "sqlite", or "redis".
	Kind string `yaml:"kind" json:"kind"`
	// Path is the database file for sqlite.
	Path string `yaml:"path" json:"path"`
	// Addr is the host:port for redis.
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// Default returns the config the engine uses when nothing is provided.
func Default() Config {
	return Config{
		EndStrategy:   "exhaust_tools",
		MaxIterations: 12,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			MaxElapsed:  2 * time.Minute,
		},
		Store: StoreConfig{Kind: "memory"},
	}
}

// Load reads the file at path (YAML, which includes JSON) on top of
// defaults, then applies environment overrides. An empty path skips
// the file and loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode config file %q: %w", absPath, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotenv loads a .env file into the process environment before
// reading overrides. A missing file is not an error.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %q: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := envString("SYSTEM_PROMPT"); v != "" {
		c.SystemPrompt = v
	}
	if v := envString("TOOLS"); v != "" {
		parts := strings.Split(v, ",")
		tools := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				tools = append(tools, p)
			}
		}
		c.Tools = tools
	}
	if v := envString("END_STRATEGY"); v != "" {
		c.EndStrategy = v
	}
	if v, ok := envInt("MAX_ITERATIONS"); ok {
		c.MaxIterations = int(v)
	}
	if v, ok := envInt("RETRY_MAX_ATTEMPTS"); ok {
		c.Retry.MaxAttempts = int(v)
	}
	if v, ok := envDuration("RETRY_BASE_DELAY"); ok {
		c.Retry.BaseDelay = v
	}
	if v, ok := envDuration("RETRY_MAX_DELAY"); ok {
		c.Retry.MaxDelay = v
	}
	if v, ok := envDuration("RETRY_MAX_ELAPSED"); ok {
		c.Retry.MaxElapsed = v
	}
	if v, ok := envInt("MAX_REQUESTS"); ok {
		c.Limits.MaxRequests = v
	}
	if v, ok := envInt("MAX_INPUT_TOKENS"); ok {
		c.Limits.MaxInputTokens = v
	}
	if v, ok := envInt("MAX_OUTPUT_TOKENS"); ok {
		c.Limits.MaxOutputTokens = v
	}
	if v, ok := envInt("MAX_TOTAL_TOKENS"); ok {
		c.Limits.MaxTotalTokens = v
	}
	if v, ok := envInt("MAX_TOOL_CALLS"); ok {
		c.Limits.MaxToolCalls = v
	}
	if v := envString("STORE_KIND"); v != "" {
		c.Store.Kind = v
	}
	if v := envString("STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := envString("STORE_ADDR"); v != "" {
		c.Store.Addr = v
	}
	if v := envString("STORE_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v, ok := envInt("STORE_DB"); ok {
		c.Store.DB = int(v)
	}
	if v, ok := envDuration("TOOL_TIMEOUT"); ok {
		c.ToolTimeout = v
	}
	if v := envString("PARALLEL_TOOLS"); v != "" {
		c.ParallelTools = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := envInt("MAX_CONCURRENT_TOOLS"); ok {
		c.MaxConcurrentTools = int(v)
	}
}

func (c *Config) validate() error {
	switch c.EndStrategy {
	case "", "early", "first_tool", "exhaust_tools":
	default:
		return fmt.Errorf("unknown end strategy %q", c.EndStrategy)
	}
	switch c.Store.Kind {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("sqlite store requires a path")
		}
	case "redis":
		if strings.TrimSpace(c.Store.Addr) == "" {
			return fmt.Errorf("redis store requires an addr")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	return nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func envInt(key string) (int64, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := envString(key)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
