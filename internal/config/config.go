package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Agent Score server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Batch     BatchConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	MaxOutputTokens  int
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// BatchConfig bounds the work a single run invocation may do.
type BatchConfig struct {
	DefaultTake      int
	MaxTake          int
	TaskTimeout      time.Duration
	StaleTaskAfter   time.Duration
	MinRecords       int
	TranscriptPrefix int
	DailyAICallQuota int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("AGENTSCORE_PORT", 8080),
			Env:  envString("AGENTSCORE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			MaxOutputTokens:  envInt("AI_MAX_OUTPUT_TOKENS", 800),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Batch: BatchConfig{
			DefaultTake:      envInt("BATCH_DEFAULT_TAKE", 3),
			MaxTake:          envInt("BATCH_MAX_TAKE", 10),
			TaskTimeout:      envDurationSecs("BATCH_TASK_TIMEOUT_SECS", 150*time.Second),
			StaleTaskAfter:   envDuration("BATCH_STALE_TASK_AFTER", 30*time.Minute),
			MinRecords:       envInt("BATCH_MIN_RECORDS", 5),
			TranscriptPrefix: envInt("BATCH_TRANSCRIPT_PREFIX_CHARS", 1200),
			DailyAICallQuota: envInt("BATCH_DAILY_AI_CALL_QUOTA", 2000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.MaxOutputTokens <= 0 {
		return fmt.Errorf("AI_MAX_OUTPUT_TOKENS must be positive, got %d", c.AI.MaxOutputTokens)
	}

	for _, u := range []struct{ name, val string }{
		{"OLLAMA_BASE_URL", c.AI.Ollama.BaseURL},
		{"VLLM_BASE_URL", c.AI.VLLM.BaseURL},
		{"OPENAI_BASE_URL", c.AI.OpenAI.BaseURL},
		{"ANTHROPIC_BASE_URL", c.AI.Anthropic.BaseURL},
	} {
		if !strings.HasPrefix(u.val, "http://") && !strings.HasPrefix(u.val, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", u.name, u.val)
		}
	}

	// API keys are checked per run by the batch runner (ConfigurationError).

	if c.Batch.MaxTake < 1 || c.Batch.MaxTake > 10 {
		return fmt.Errorf("BATCH_MAX_TAKE must be between 1 and 10, got %d", c.Batch.MaxTake)
	}
	if c.Batch.DefaultTake < 1 || c.Batch.DefaultTake > c.Batch.MaxTake {
		return fmt.Errorf("BATCH_DEFAULT_TAKE must be between 1 and BATCH_MAX_TAKE, got %d", c.Batch.DefaultTake)
	}
	if c.Batch.TaskTimeout <= 0 {
		return fmt.Errorf("BATCH_TASK_TIMEOUT_SECS must be positive")
	}
	// The last task of a full run may wait MaxTake task timeouts in running.
	if c.Batch.StaleTaskAfter <= time.Duration(c.Batch.MaxTake)*c.Batch.TaskTimeout {
		return fmt.Errorf("BATCH_STALE_TASK_AFTER must exceed BATCH_MAX_TAKE task timeouts, got %s", c.Batch.StaleTaskAfter)
	}
	if c.Batch.MinRecords < 1 {
		return fmt.Errorf("BATCH_MIN_RECORDS must be at least 1, got %d", c.Batch.MinRecords)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
