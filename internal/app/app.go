// Package app wires stores, the generation pipeline and the orchestrator
// from configuration. Both the API server and the sweep command build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iago/fitcoach-back/internal/ai"
	"github.com/iago/fitcoach-back/internal/cache"
	"github.com/iago/fitcoach-back/internal/catalog"
	"github.com/iago/fitcoach-back/internal/config"
	"github.com/iago/fitcoach-back/internal/lock"
	"github.com/iago/fitcoach-back/internal/quality"
	"github.com/iago/fitcoach-back/internal/queue"
	"github.com/iago/fitcoach-back/internal/repository"
	"github.com/iago/fitcoach-back/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Options struct {
	// WithQueue sets up the trigger queue used by Submit and the worker.
	// The sweep command advances jobs inline and does not need it.
	WithQueue bool
}

type CachePurger interface {
	Purge(ctx context.Context) (int64, error)
}

type App struct {
	Config       config.Config
	Logger       zerolog.Logger
	Catalog      *catalog.Catalog
	Repo         repository.JobsRepository
	Orchestrator *service.Orchestrator
	Sweeper      *service.Sweeper
	Consumer     queue.Consumer
	// CachePurger is nil unless the durable tier lives in Postgres.
	CachePurger  CachePurger

	probes  map[string]func(ctx context.Context) error
	closers []func()
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger, probes: make(map[string]func(ctx context.Context) error)}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// HealthChecks returns a reachability probe per external store in use.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	out := make(map[string]func(ctx context.Context) error, len(a.probes))
	for name, probe := range a.probes {
		out[name] = probe
	}
	return out
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	now := func() time.Time { return time.Now().UTC() }

	pool, err := a.setupPostgres(ctx)
	if err != nil {
		return err
	}
	redisClient := a.setupRedis(ctx)

	cat, err := a.loadCatalog(ctx, pool)
	if err != nil {
		return err
	}
	a.Catalog = cat
	if missing := cat.MissingAssets(); len(missing) > 0 {
		a.Logger.Warn().Strs("item_ids", missing).Msg("catalog items without assets will never be selected")
	}

	var (
		locks   lock.Store
		durable cache.Store
		fast    cache.Store
	)
	if pool != nil {
		a.Repo = repository.NewPostgresJobsRepository(pool)
		durableStore := cache.NewPostgresStore(pool)
		durable = durableStore
		a.CachePurger = durableStore
		locks = lock.NewPostgresStore(pool)
	} else {
		a.Logger.Warn().Msg("DATABASE_URL not configured, using in-memory jobs, durable cache and locks")
		a.Repo = repository.NewMemoryJobsRepository()
		durable = cache.NewMemoryStore(cache.MemoryConfig{Tier: cache.TierDurable, MaxEntries: cfg.FastCacheMaxEntries * 10, Now: now})
		locks = lock.NewMemoryStore(now)
	}
	if redisClient != nil {
		fast = cache.NewRedisStore(redisClient, cfg.RedisKeyPrefix+":plan-cache:")
		if pool == nil {
			locks = lock.NewRedisStore(redisClient, cfg.RedisKeyPrefix+":generation-lock:")
		}
	} else {
		fast = cache.NewMemoryStore(cache.MemoryConfig{Tier: cache.TierFast, MaxEntries: cfg.FastCacheMaxEntries, Now: now})
	}

	coordinator := cache.NewCoordinator(fast, durable, cache.CoordinatorConfig{
		FastTTL:    cfg.FastCacheTTL,
		DurableTTL: cfg.DurableCacheTTL,
		Now:        now,
	}, a.Logger)

	generator, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	if !generator.Available() {
		a.Logger.Warn().Str("provider", cfg.AIProvider).Msg("ai provider not configured, generations will fail")
	}
	invoker, err := ai.NewInvoker(generator, ai.NewModelRouter(ai.ModelRouterConfig{
		MealPlanPrimary:     cfg.ModelMealPlanPrimary,
		MealPlanFallback:    cfg.ModelMealPlanFallback,
		WorkoutPlanPrimary:  cfg.ModelWorkoutPlanPrimary,
		WorkoutPlanFallback: cfg.ModelWorkoutPlanFallback,
	}))
	if err != nil {
		return fmt.Errorf("create invoker: %w", err)
	}
	pipeline := service.NewPipeline(
		catalog.NewCandidateFilter(cat, catalog.FilterConfig{MinCandidates: cfg.MinCandidates, MaxCandidates: cfg.MaxCandidates}),
		invoker,
		quality.NewRepairEngine(cat, quality.RepairConfig{MaxHallucinationRatio: cfg.MaxHallucinationRatio}),
	)

	var dispatcher queue.Producer
	if opts.WithQueue {
		dispatcher = a.setupQueue(ctx, redisClient)
	}

	a.Orchestrator = service.NewOrchestrator(service.OrchestratorDeps{
		Repo:       a.Repo,
		Locks:      locks,
		Cache:      coordinator,
		Pipeline:   pipeline,
		Dispatcher: dispatcher,
		Logger:     a.Logger,
		Now:        now,
	}, service.OrchestratorConfig{
		GenerationTimeout: cfg.GenerationTimeout,
		LockLease:         cfg.LockLease,
		JobTTL:            cfg.JobTTL,
		CatalogVersion:    cat.Version(),
		Retry: service.RetryPolicy{
			MaxAttempts:              cfg.RetryMaxAttempts,
			HallucinationMaxAttempts: cfg.HallucinationMaxAttempts,
			BaseBackoff:              cfg.RetryBaseBackoff,
			MaxBackoff:               cfg.RetryMaxBackoff,
		},
	})
	a.Sweeper = service.NewSweeper(a.Repo, a.Orchestrator, service.SweepConfig{
		StaleAfter:  cfg.StaleAfter,
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		HostBudget:  cfg.HostBudget,
	}, a.Logger, now)

	a.Logger.Info().
		Str("catalog_version", cat.Version()).
		Int("catalog_items", cat.Len()).
		Bool("postgres", pool != nil).
		Bool("redis", redisClient != nil).
		Str("ai_provider", cfg.AIProvider).
		Msg("application wired")
	return nil
}

func (a *App) setupPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.Config.DatabaseURL == "" {
		return nil, nil
	}
	pool, err := repository.NewPool(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	a.probes["postgres"] = pool.Ping
	a.Logger.Info().Msg("postgres pool initialized")
	return pool, nil
}

// setupRedis returns nil when Redis is not configured or unreachable; every
// Redis-backed component has an in-process fallback.
func (a *App) setupRedis(ctx context.Context) *redis.Client {
	if a.Config.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Logger.Error().Err(err).Str("addr", a.Config.RedisAddr).Msg("redis unreachable, falling back to in-process stores")
		_ = client.Close()
		return nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.probes["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	a.Logger.Info().Str("addr", a.Config.RedisAddr).Msg("redis client initialized")
	return client
}

func (a *App) loadCatalog(ctx context.Context, pool *pgxpool.Pool) (*catalog.Catalog, error) {
	switch a.Config.CatalogSource {
	case config.CatalogSourcePostgres:
		if pool == nil {
			return nil, errors.New("postgres catalog requires DATABASE_URL")
		}
		cat, err := catalog.LoadPostgres(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("load catalog from postgres: %w", err)
		}
		return cat, nil
	default:
		cat, err := catalog.LoadFile(a.Config.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog %s: %w", a.Config.CatalogPath, err)
		}
		return cat, nil
	}
}

func (a *App) setupQueue(ctx context.Context, redisClient *redis.Client) queue.Producer {
	cfg := a.Config
	var base queue.Producer

	if redisClient != nil {
		streams, err := queue.NewStreamsQueue(ctx, redisClient, queue.StreamsConfig{
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: 3,
			ClaimIdle:   cfg.HostBudget + cfg.LockLease,
		})
		if err == nil {
			a.Logger.Info().Str("stream", cfg.RedisStream).Msg("redis streams queue initialized")
			base, a.Consumer = streams, streams
		} else {
			a.Logger.Error().Err(err).Msg("failed to initialize redis streams queue, fallback to local")
		}
	}
	if base == nil {
		local := queue.NewLocalQueue(512, 3, a.Logger)
		base, a.Consumer = local, local
	}

	if !cfg.QueueBatchingEnabled {
		return base
	}
	batching := queue.NewBatchingProducer(ctx, base, queue.BatchingConfig{
		MaxBatchSize:       cfg.QueueBatchSize,
		FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
		FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
		QueueCapacity:      cfg.QueueBatchQueueCapacity,
		MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		Logger:             a.Logger,
	})
	a.closers = append(a.closers, batching.Close)
	a.Logger.Info().
		Int("size", cfg.QueueBatchSize).
		Int("flush_ms", cfg.QueueBatchFlushMS).
		Int("queue_capacity", cfg.QueueBatchQueueCapacity).
		Int("max_in_flight", cfg.QueueBatchMaxInFlight).
		Msg("queue batching enabled")
	return batching
}

func newGenerator(cfg config.Config) (ai.TextGenerator, error) {
	httpClient := &http.Client{}

	switch cfg.AIProvider {
	case config.AIProviderOpenRouter:
		return ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			HTTPClient: httpClient,
			SiteURL:    cfg.OpenRouterSiteURL,
			AppName:    cfg.OpenRouterAppName,
		}), nil
	case config.AIProviderLangChain:
		generator, err := ai.NewLangChainGenerator(ai.LangChainConfig{
			Backend:      cfg.LangChainBackend,
			DefaultModel: cfg.LangChainModel,
			APIKey:       cfg.LangChainAPIKey,
			OllamaHost:   cfg.OllamaHost,
		})
		if err != nil {
			return nil, fmt.Errorf("create langchain generator: %w", err)
		}
		return generator, nil
	case config.AIProviderOpenAI:
		return ai.NewOpenAIClient(ai.OpenAIClientConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			HTTPClient:   httpClient,
			Organization: cfg.OpenAIOrganization,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}
}
