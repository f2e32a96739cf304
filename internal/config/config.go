package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm" validate:"required"`
	Embedding EmbeddingConfig `mapstructure:"embedding" validate:"required"`
	Vector    VectorConfig    `mapstructure:"vector" validate:"required"`
	Tasks     TaskConfig      `mapstructure:"tasks" validate:"required"`
	Sync      SyncConfig      `mapstructure:"sync" validate:"required"`
	Log       LogConfig       `mapstructure:"log" validate:"required"`
}

// ServerConfig contains settings of the long-running serve process.
type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	InitIndex       bool          `mapstructure:"init_index"`
	// SyncInterval is how often serve updates the vector index. Zero disables it.
	SyncInterval time.Duration `mapstructure:"sync_interval" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL            string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns   int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// LLMConfig contains the text-generation provider settings.
type LLMConfig struct {
	DefaultProvider string `mapstructure:"default_provider" validate:"required,oneof=gemini openai anthropic ollama"`

	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	GeminiModel     string `mapstructure:"gemini_model" validate:"required"`
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIModel     string `mapstructure:"openai_model" validate:"required"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model" validate:"required"`
	OllamaURL       string `mapstructure:"ollama_url" validate:"omitempty,url"`
	OllamaModel     string `mapstructure:"ollama_model" validate:"required"`

	// PromptTemplatePath overrides the embedded generation prompt.
	PromptTemplatePath string `mapstructure:"prompt_template_path" validate:"omitempty,file"`

	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// EmbeddingConfig contains the embedding provider settings used by vector sync.
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider" validate:"required,oneof=gemini openai ollama"`
	Model    string `mapstructure:"model" validate:"required"`
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=memory surreal"`
	Index     string `mapstructure:"index" validate:"required,alphanum"`
	Dimension int    `mapstructure:"dimension" validate:"gt=0"`

	SurrealURL       string `mapstructure:"surreal_url" validate:"omitempty,url"`
	SurrealNamespace string `mapstructure:"surreal_namespace" validate:"required"`
	SurrealDatabase  string `mapstructure:"surreal_database" validate:"required"`
	SurrealUser      string `mapstructure:"surreal_user"`
	SurrealPass      string `mapstructure:"surreal_pass"`
}

// TaskConfig contains the task runner and watchdog settings.
type TaskConfig struct {
	Workers       int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize     int           `mapstructure:"queue_size" validate:"gt=0"`
	LogLimit      int           `mapstructure:"log_limit" validate:"gt=0"`
	StallInterval time.Duration `mapstructure:"stall_interval" validate:"gt=0"`
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	Retention     time.Duration `mapstructure:"retention" validate:"gte=0"`

	BatchSize          int     `mapstructure:"batch_size" validate:"gt=0"`
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold" validate:"gte=0,lte=1"`
	SamplesPerRecord   int     `mapstructure:"samples_per_record" validate:"gt=0"`
}

// SyncConfig contains the vector index synchronization settings.
type SyncConfig struct {
	BatchSize        int  `mapstructure:"batch_size" validate:"gt=0"`
	EmbedConcurrency int  `mapstructure:"embed_concurrency" validate:"gt=0"`
	UpdateAfterTask  bool `mapstructure:"update_after_task"`
}

// LogConfig contains logging settings. When File is set, logs are also
// written as JSON to a rotated file.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gt=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}
