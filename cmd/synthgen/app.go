package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/phrazzld/synthgen/internal/config"
	"github.com/phrazzld/synthgen/internal/generation"
	"github.com/phrazzld/synthgen/internal/platform/gemini"
	"github.com/phrazzld/synthgen/internal/platform/langchain"
	"github.com/phrazzld/synthgen/internal/platform/memory"
	"github.com/phrazzld/synthgen/internal/platform/postgres"
	"github.com/phrazzld/synthgen/internal/platform/surreal"
	"github.com/phrazzld/synthgen/internal/store"
	"github.com/phrazzld/synthgen/internal/task"
	"github.com/phrazzld/synthgen/internal/vectorsync"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	recordStore    store.RecordStore
	sampleStore    store.SampleStore
	taskStore      store.TaskStore
	syncStateStore store.SyncStateStore

	// Generation
	providers *generation.Registry
	registry  *task.Registry
	executor  *task.Executor
	runner    *task.Runner

	// Vector index
	surreal    *surreal.Client
	vectors    store.VectorStore
	syncEngine *vectorsync.Engine
}

// newApplication creates an application instance with all dependencies
// initialized. It owns the database connection it opens.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	var err error
	app.db, err = postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, logger)
	if err != nil {
		return nil, err
	}

	app.recordStore = postgres.NewPostgresRecordStore(app.db, logger)
	app.sampleStore = postgres.NewPostgresSampleStore(app.db, logger)
	app.taskStore = postgres.NewPostgresTaskStore(app.db, logger)
	app.syncStateStore = postgres.NewPostgresSyncStateStore(app.db, logger)

	var models *genai.Models
	if cfg.LLM.GeminiAPIKey != "" {
		models, err = gemini.NewModels(ctx, cfg.LLM.GeminiAPIKey)
		if err != nil {
			app.cleanup(ctx)
			return nil, err
		}
	}

	app.providers, err = newProviderRegistry(cfg.LLM, models, logger)
	if err != nil {
		app.cleanup(ctx)
		return nil, fmt.Errorf("failed to initialize LLM providers: %w", err)
	}
	logger.Info("LLM providers registered", "providers", app.providers.Names())

	if err := app.setupVectorSync(ctx, models); err != nil {
		app.cleanup(ctx)
		return nil, err
	}

	if err := app.setupTasks(); err != nil {
		app.cleanup(ctx)
		return nil, err
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// newProviderRegistry registers every provider whose credentials are
// configured. The default provider is guaranteed present by config validation.
func newProviderRegistry(cfg config.LLMConfig, models *genai.Models, logger *slog.Logger) (*generation.Registry, error) {
	registry := generation.NewRegistry()

	if models != nil {
		p, err := gemini.NewProvider(models, cfg.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if cfg.OpenAIAPIKey != "" {
		p, err := langchain.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if cfg.AnthropicAPIKey != "" {
		p, err := langchain.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if cfg.OllamaURL != "" {
		p, err := langchain.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}

	if _, err := registry.Get(cfg.DefaultProvider); err != nil {
		return nil, err
	}
	return registry, nil
}

// newEmbedder selects the embedding backend used by vector sync.
func newEmbedder(cfg *config.Config, models *genai.Models) (vectorsync.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "gemini":
		if models == nil {
			return nil, fmt.Errorf("%w: gemini embeddings require an API key", config.ErrInvalidConfig)
		}
		return gemini.NewEmbedder(models, cfg.Embedding.Model)
	case "openai":
		return langchain.NewOpenAIEmbedder(cfg.LLM.OpenAIAPIKey, cfg.Embedding.Model, cfg.Vector.Dimension)
	case "ollama":
		return langchain.NewOllamaEmbedder(cfg.LLM.OllamaURL, cfg.Embedding.Model, cfg.Vector.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalidConfig, cfg.Embedding.Provider)
	}
}

func retryPolicy(cfg config.LLMConfig) generation.RetryPolicy {
	return generation.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}
}

// setupVectorSync connects the vector backend and creates the sync engine
// over the generated samples.
func (app *application) setupVectorSync(ctx context.Context, models *genai.Models) error {
	cfg := app.config

	embedder, err := newEmbedder(cfg, models)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	switch cfg.Vector.Backend {
	case "surreal":
		app.surreal, err = surreal.Connect(ctx, surreal.Config{
			URL:       cfg.Vector.SurrealURL,
			Namespace: cfg.Vector.SurrealNamespace,
			Database:  cfg.Vector.SurrealDatabase,
			Username:  cfg.Vector.SurrealUser,
			Password:  cfg.Vector.SurrealPass,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to SurrealDB: %w", err)
		}
		app.vectors, err = surreal.NewVectorStore(app.surreal.DB(), cfg.Vector.Index, cfg.Vector.Dimension, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create vector store: %w", err)
		}
	default:
		app.vectors = memory.NewVectorStore(cfg.Vector.Dimension)
	}

	app.syncEngine = vectorsync.NewEngine(
		app.sampleStore,
		app.vectors,
		embedder,
		app.syncStateStore,
		vectorsync.Config{
			Index:            cfg.Vector.Index,
			BatchSize:        cfg.Sync.BatchSize,
			EmbedConcurrency: cfg.Sync.EmbedConcurrency,
			Retry:            retryPolicy(cfg.LLM),
		},
		app.logger,
	)
	app.logger.Info("vector sync initialized",
		"backend", cfg.Vector.Backend,
		"index", cfg.Vector.Index,
		"embedding_provider", cfg.Embedding.Provider)
	return nil
}

// setupTasks creates the task registry, executor and runner. The runner is
// not started here.
func (app *application) setupTasks() error {
	cfg := app.config

	prompts, err := generation.NewPromptBuilder(cfg.LLM.PromptTemplatePath)
	if err != nil {
		return err
	}

	generator, err := generation.NewGenerator(
		app.providers,
		prompts,
		retryPolicy(cfg.LLM),
		cfg.LLM.RequestTimeout,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	// Tasks of other processes count as abandoned once they miss heartbeats
	// for as long as the watchdog tolerates a stalled task.
	app.registry = task.NewRegistry(app.taskStore, task.RegistryConfig{
		LogLimit:     cfg.Tasks.LogLimit,
		AbandonAfter: cfg.Tasks.StallInterval,
	}, app.logger)
	app.executor = task.NewExecutor(app.registry, app.recordStore, generator, app.sampleStore, app.logger)
	app.runner = task.NewRunner(app.registry, app.executor, task.RunnerConfig{
		WorkerCount:   cfg.Tasks.Workers,
		QueueSize:     cfg.Tasks.QueueSize,
		StallInterval: cfg.Tasks.StallInterval,
		CheckInterval: cfg.Tasks.CheckInterval,
		Retention:     cfg.Tasks.Retention,
	}, app.logger)
	if cfg.Sync.UpdateAfterTask {
		app.runner.SetIndexUpdater(app.syncEngine)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup(ctx context.Context) {
	if app.runner != nil {
		app.runner.Stop()
	}

	if app.surreal != nil {
		if err := app.surreal.Close(context.WithoutCancel(ctx)); err != nil {
			app.logger.Error("error closing SurrealDB connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Debug("application shutdown completed")
}
