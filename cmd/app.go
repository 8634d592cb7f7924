package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/cache"
	"github.com/uralreduktor/seny/pkg/config"
	"github.com/uralreduktor/seny/pkg/database"
	"github.com/uralreduktor/seny/pkg/handlers"
	"github.com/uralreduktor/seny/pkg/llm"
	"github.com/uralreduktor/seny/pkg/logging"
	"github.com/uralreduktor/seny/pkg/metrics"
	"github.com/uralreduktor/seny/pkg/middleware"
	"github.com/uralreduktor/seny/pkg/repositories"
	"github.com/uralreduktor/seny/pkg/retry"
	"github.com/uralreduktor/seny/pkg/seed"
	"github.com/uralreduktor/seny/pkg/services"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *database.DB
	metrics *metrics.Metrics
	closers []func()

	nodeRepo   repositories.NodeRepository
	presetRepo repositories.PresetRepository

	registry  services.SchemaRegistry
	nodes     services.NodeService
	schemas   services.SchemaService
	presets   services.PresetService
	lifecycle services.LifecycleService
	cards     services.CardService
	backfill  services.EmbeddingBackfill
}

// newApp connects to PostgreSQL and Redis, applies pending migrations and
// builds the repositories and services. Close releases everything it opened.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	connStr := cfg.Database.ConnectionString()
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(connStr)),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Bool("embeddings", cfg.Embedding.IsAvailable()))

	if err := a.connect(ctx, connStr); err != nil {
		a.Close()
		return nil, err
	}
	if err := migrate(connStr, cfg.MigrationsPath, logger); err != nil {
		a.Close()
		return nil, err
	}

	// Schema cache: Redis when configured, otherwise in-process.
	var schemaCache cache.SchemaCache = cache.NewMemoryCache()
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		schemaCache = cache.NewRedisCache(redisClient)
		logger.Info("Using Redis schema cache")
	}
	schemaCache = a.metrics.InstrumentCache(schemaCache)

	embedder, err := newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	embedder = a.metrics.InstrumentEmbedder(embedder)

	// Repositories
	a.nodeRepo = repositories.NewNodeRepository()
	a.presetRepo = repositories.NewPresetRepository()
	schemaRepo := repositories.NewSchemaVersionRepository()
	auditRepo := repositories.NewAuditRepository()
	cardRepo := repositories.NewCardRepository()

	// Services
	a.registry = services.NewSchemaRegistry(a.nodeRepo, schemaRepo, schemaCache, services.RegistryConfig{
		TTL:               cfg.SchemaCache.TTL(),
		ValidatorCapacity: cfg.SchemaCache.ValidatorCapacity,
	}, logger)
	a.nodes = services.NewNodeService(a.nodeRepo, a.db, a.registry, logger)
	a.schemas = services.NewSchemaService(a.nodeRepo, schemaRepo, a.presetRepo, auditRepo, a.nodes, a.registry, a.db, logger)
	a.presets = services.NewPresetService(a.presetRepo, schemaRepo, a.registry, a.db, logger)
	a.lifecycle = services.NewLifecycleService(cardRepo, a.nodeRepo, auditRepo, a.db, logger)
	a.cards = services.NewCardService(cardRepo, a.nodeRepo, a.registry, a.lifecycle, embedder, a.db, logger)

	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Embedding.BackfillWorkers}, logger)
	a.backfill = services.NewEmbeddingBackfill(cardRepo, embedder, pool, logger)

	return a, nil
}

func (a *app) connect(ctx context.Context, connStr string) error {
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: a.cfg.Database.MaxConnections,
		})
		if err != nil {
			a.logger.Warn("Database not ready", zap.String("error", logging.SanitizeError(err)))
			return err
		}
		a.db = db
		return nil
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// applySeed loads a classifier file and creates whatever it describes that
// does not exist yet.
func (a *app) applySeed(ctx context.Context, path string) (*seed.Stats, error) {
	f, err := seed.LoadFile(path)
	if err != nil {
		return nil, err
	}
	seeder := seed.NewSeeder(a.nodes, a.schemas, a.presets, a.nodeRepo, a.presetRepo, a.logger)

	var stats *seed.Stats
	err = a.db.WithScope(ctx, func(ctx context.Context) error {
		stats, err = seeder.Apply(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("applying seed file: %w", err)
	}
	return stats, nil
}

// handler builds the HTTP surface: API routes on a ServeMux wrapped in the
// request middleware.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	scope := handlers.ScopeMiddleware(database.WithScopedConnection(a.db, a.logger))

	handlers.NewHealthHandler(a.cfg, a.db, a.logger).RegisterRoutes(mux)
	a.metrics.RegisterRoutes(mux)
	handlers.NewNodeHandler(a.nodes, a.logger).RegisterRoutes(mux, scope)
	handlers.NewSchemaHandler(a.schemas, a.registry, a.logger).RegisterRoutes(mux, scope)
	handlers.NewPresetHandler(a.presets, a.logger).RegisterRoutes(mux, scope)
	handlers.NewCardHandler(a.cards, a.logger).RegisterRoutes(mux, scope)
	handlers.NewEmbeddingHandler(a.backfill, a.logger).RegisterRoutes(mux, scope)

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Recover(a.logger),
		middleware.RequestLogger(a.logger),
		a.metrics.Middleware(),
	)
}

func migrate(connStr, path string, logger *zap.Logger) error {
	sqlDB, err := database.OpenSQL(connStr)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return database.RunMigrations(sqlDB, path, logger)
}

func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (llm.Embedder, error) {
	if !cfg.IsAvailable() {
		return llm.DisabledEmbedder{}, nil
	}
	embedder, err := llm.NewOpenAIEmbedder(&llm.Config{
		Endpoint:   cfg.BaseURL,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.MaxRetries,
		Breaker: llm.BreakerConfig{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  time.Duration(cfg.BreakerCooldown) * time.Second,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}
