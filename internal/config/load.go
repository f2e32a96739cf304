package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SYNTHGEN_DATABASE_URL for database.url.
const EnvPrefix = "SYNTHGEN"

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("config validation failed")

var defaults = map[string]any{
	"server.shutdown_timeout": 30 * time.Second,
	"server.init_index":       true,
	"server.sync_interval":    15 * time.Minute,

	"database.url":              "",
	"database.max_open_conns":   10,
	"database.migrate_on_start": true,

	"llm.default_provider":     "gemini",
	"llm.gemini_api_key":       "",
	"llm.gemini_model":         "gemini-2.0-flash",
	"llm.openai_api_key":       "",
	"llm.openai_model":         "gpt-4o-mini",
	"llm.anthropic_api_key":    "",
	"llm.anthropic_model":      "claude-3-5-haiku-latest",
	"llm.ollama_url":           "http://localhost:11434",
	"llm.ollama_model":         "llama3.2",
	"llm.prompt_template_path": "",
	"llm.max_retries":          3,
	"llm.retry_base_delay":     500 * time.Millisecond,
	"llm.retry_max_delay":      10 * time.Second,
	"llm.request_timeout":      60 * time.Second,

	"embedding.provider": "gemini",
	"embedding.model":    "text-embedding-004",

	"vector.backend":           "memory",
	"vector.index":             "samples",
	"vector.dimension":         768,
	"vector.surreal_url":       "",
	"vector.surreal_namespace": "synthgen",
	"vector.surreal_database":  "synthgen",
	"vector.surreal_user":      "",
	"vector.surreal_pass":      "",

	"tasks.workers":              2,
	"tasks.queue_size":           100,
	"tasks.log_limit":            200,
	"tasks.stall_interval":       10 * time.Minute,
	"tasks.check_interval":       time.Minute,
	"tasks.retention":            24 * time.Hour,
	"tasks.batch_size":           50,
	"tasks.error_rate_threshold": 0.2,
	"tasks.samples_per_record":   1,

	"sync.batch_size":        200,
	"sync.embed_concurrency": 4,
	"sync.update_after_task": true,

	"log.level":        "info",
	"log.file":         "",
	"log.max_size_mb":  50,
	"log.max_backups":  3,
	"log.max_age_days": 28,
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence. When configFile is empty,
// synthgen.yaml is searched in the working directory and in $HOME/.synthgen.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("synthgen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.synthgen")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints and the rules spanning several fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.LLM.requireCredentials(c.LLM.DefaultProvider); err != nil {
		return err
	}

	switch c.Embedding.Provider {
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("%w: gemini embeddings require llm.gemini_api_key", ErrInvalidConfig)
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: openai embeddings require llm.openai_api_key", ErrInvalidConfig)
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			return fmt.Errorf("%w: ollama embeddings require llm.ollama_url", ErrInvalidConfig)
		}
	}

	if c.Vector.Backend == "surreal" && c.Vector.SurrealURL == "" {
		return fmt.Errorf("%w: surreal backend requires vector.surreal_url", ErrInvalidConfig)
	}

	if c.Tasks.StallInterval <= c.Tasks.CheckInterval {
		return fmt.Errorf("%w: tasks.stall_interval (%s) must exceed tasks.check_interval (%s)",
			ErrInvalidConfig, c.Tasks.StallInterval, c.Tasks.CheckInterval)
	}

	return nil
}

// requireCredentials fails when the named provider lacks its API key or URL.
func (l LLMConfig) requireCredentials(provider string) error {
	var missing string
	switch provider {
	case "gemini":
		if l.GeminiAPIKey == "" {
			missing = "llm.gemini_api_key"
		}
	case "openai":
		if l.OpenAIAPIKey == "" {
			missing = "llm.openai_api_key"
		}
	case "anthropic":
		if l.AnthropicAPIKey == "" {
			missing = "llm.anthropic_api_key"
		}
	case "ollama":
		if l.OllamaURL == "" {
			missing = "llm.ollama_url"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: provider %q requires %s", ErrInvalidConfig, provider, missing)
	}
	return nil
}
