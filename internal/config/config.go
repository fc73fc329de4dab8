package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AIProviderOpenAI     = "openai"
	AIProviderOpenRouter = "openrouter"
	AIProviderLangChain  = "langchain"

	CatalogSourceFile     = "file"
	CatalogSourcePostgres = "postgres"
)

// Config centralizes runtime settings for the API, the worker and the sweep.
type Config struct {
	AppEnv   string
	LogLevel string
	Port     string

	JWTSecret  string
	JWTIssuer  string
	SweepToken string

	DatabaseURL string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	RedisStream    string
	RedisDLQ       string
	RedisGroup     string
	RedisConsumer  string

	AIProvider         string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIOrganization string
	OpenRouterAPIKey   string
	OpenRouterBaseURL  string
	OpenRouterSiteURL  string
	OpenRouterAppName  string
	LangChainBackend   string
	LangChainModel     string
	LangChainAPIKey    string
	OllamaHost         string

	ModelMealPlanPrimary     string
	ModelMealPlanFallback    string
	ModelWorkoutPlanPrimary  string
	ModelWorkoutPlanFallback string

	CatalogSource         string
	CatalogPath           string
	MinCandidates         int
	MaxCandidates         int
	MaxHallucinationRatio float64

	GenerationTimeout time.Duration
	RepairMargin      time.Duration
	LockLease         time.Duration
	StaleAfter        time.Duration
	JobTTL            time.Duration
	HostBudget        time.Duration

	RetryMaxAttempts         int
	HallucinationMaxAttempts int
	RetryBaseBackoff         time.Duration
	RetryMaxBackoff          time.Duration

	FastCacheTTL        time.Duration
	FastCacheMaxEntries int
	DurableCacheTTL     time.Duration

	SweepEnabled     bool
	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepConcurrency int

	RateLimitRPS   float64
	RateLimitBurst int

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled bool
}

// Load reads .env.local then .env without overriding variables already set
// in the process environment.
func Load() Config {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		AppEnv:   getEnv("APP_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnv("PORT", "8080"),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTIssuer:  getEnv("JWT_ISSUER", ""),
		SweepToken: getEnv("SWEEP_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "fitcoach"),
		RedisStream:    getEnv("REDIS_STREAM", "plan_jobs"),
		RedisDLQ:       getEnv("REDIS_DLQ_STREAM", "plan_jobs_dlq"),
		RedisGroup:     getEnv("REDIS_GROUP", "plan_workers"),
		RedisConsumer:  getEnv("REDIS_CONSUMER", "api-1"),

		AIProvider:         strings.ToLower(getEnv("AI_PROVIDER", AIProviderOpenAI)),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrganization: getEnv("OPENAI_ORGANIZATION", ""),
		OpenRouterAPIKey:   getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:  getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterSiteURL:  getEnv("OPENROUTER_SITE_URL", ""),
		OpenRouterAppName:  getEnv("OPENROUTER_APP_NAME", "FitCoach"),
		LangChainBackend:   getEnv("LANGCHAIN_BACKEND", "openai"),
		LangChainModel:     getEnv("LANGCHAIN_MODEL", ""),
		LangChainAPIKey:    getEnv("LANGCHAIN_API_KEY", ""),
		OllamaHost:         getEnv("OLLAMA_HOST", "http://localhost:11434"),

		ModelMealPlanPrimary:     getEnv("MODEL_MEAL_PLAN_PRIMARY", "gpt-4.1-mini"),
		ModelMealPlanFallback:    getEnv("MODEL_MEAL_PLAN_FALLBACK", "gpt-4.1"),
		ModelWorkoutPlanPrimary:  getEnv("MODEL_WORKOUT_PLAN_PRIMARY", "gpt-4.1-mini"),
		ModelWorkoutPlanFallback: getEnv("MODEL_WORKOUT_PLAN_FALLBACK", "gpt-4.1"),

		CatalogSource:         strings.ToLower(getEnv("CATALOG_SOURCE", CatalogSourceFile)),
		CatalogPath:           getEnv("CATALOG_PATH", "data/catalog.yaml"),
		MinCandidates:         getEnvInt("CANDIDATES_MIN", 20),
		MaxCandidates:         getEnvInt("CANDIDATES_MAX", 60),
		MaxHallucinationRatio: getEnvFloat("MAX_HALLUCINATION_RATIO", 0.25),

		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 120*time.Second),
		RepairMargin:      getEnvDuration("REPAIR_MARGIN", 30*time.Second),
		LockLease:         getEnvDuration("LOCK_LEASE", 5*time.Minute),
		StaleAfter:        getEnvDuration("STALE_AFTER", 6*time.Minute),
		JobTTL:            getEnvDuration("JOB_TTL", 24*time.Hour),
		HostBudget:        getEnvDuration("HOST_BUDGET", 10*time.Minute),

		RetryMaxAttempts:         getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		HallucinationMaxAttempts: getEnvInt("HALLUCINATION_MAX_ATTEMPTS", 2),
		RetryBaseBackoff:         getEnvDuration("RETRY_BASE_BACKOFF", 2*time.Second),
		RetryMaxBackoff:          getEnvDuration("RETRY_MAX_BACKOFF", 30*time.Second),

		FastCacheTTL:        getEnvDuration("CACHE_FAST_TTL", time.Hour),
		FastCacheMaxEntries: getEnvInt("CACHE_FAST_MAX_ENTRIES", 2000),
		DurableCacheTTL:     getEnvDuration("CACHE_DURABLE_TTL", 14*24*time.Hour),

		SweepEnabled:     getEnvBool("SWEEP_ENABLED", true),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 50),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", true),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

// Validate rejects settings that would let a live generation outlast its
// lock, or let the sweep resume a job whose lease is still valid.
func (c Config) Validate() error {
	var problems []error

	if c.GenerationTimeout <= 0 {
		problems = append(problems, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	if c.LockLease <= c.GenerationTimeout+c.RepairMargin {
		problems = append(problems, fmt.Errorf(
			"LOCK_LEASE (%s) must exceed GENERATION_TIMEOUT + REPAIR_MARGIN (%s)",
			c.LockLease, c.GenerationTimeout+c.RepairMargin,
		))
	}
	if c.StaleAfter < c.LockLease {
		problems = append(problems, fmt.Errorf("STALE_AFTER (%s) must be at least LOCK_LEASE (%s)", c.StaleAfter, c.LockLease))
	}
	if c.HostBudget < c.GenerationTimeout {
		problems = append(problems, fmt.Errorf("HOST_BUDGET (%s) must cover one GENERATION_TIMEOUT (%s)", c.HostBudget, c.GenerationTimeout))
	}
	if c.RetryMaxAttempts < 1 || c.HallucinationMaxAttempts < 1 {
		problems = append(problems, errors.New("retry attempt limits must be at least 1"))
	}
	if c.MinCandidates < 1 || c.MaxCandidates < c.MinCandidates {
		problems = append(problems, errors.New("CANDIDATES_MIN must be positive and not above CANDIDATES_MAX"))
	}
	if c.MaxHallucinationRatio < 0 || c.MaxHallucinationRatio > 1 {
		problems = append(problems, errors.New("MAX_HALLUCINATION_RATIO must be within [0, 1]"))
	}
	switch c.AIProvider {
	case AIProviderOpenAI, AIProviderOpenRouter, AIProviderLangChain:
	default:
		problems = append(problems, fmt.Errorf("unsupported AI_PROVIDER %q", c.AIProvider))
	}
	switch c.CatalogSource {
	case CatalogSourceFile:
		if strings.TrimSpace(c.CatalogPath) == "" {
			problems = append(problems, errors.New("CATALOG_PATH is required for file catalogs"))
		}
	case CatalogSourcePostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, errors.New("DATABASE_URL is required for postgres catalogs"))
		}
	default:
		problems = append(problems, fmt.Errorf("unsupported CATALOG_SOURCE %q", c.CatalogSource))
	}

	return errors.Join(problems...)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
