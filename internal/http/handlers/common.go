package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/iago/fitcoach-back/internal/domain"
	"github.com/iago/fitcoach-back/internal/http/middleware"
	"github.com/iago/fitcoach-back/internal/service"
	"github.com/rs/zerolog"
)

var errInvalidPayload = errors.New("invalid payload")

type JobService interface {
	Submit(ctx context.Context, request service.SubmitRequest) (*domain.Job, error)
	GetJob(ctx context.Context, ownerID, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.JobListItem, int, error)
}

type SweepRunner interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type API struct {
	jobs        JobService
	sweeper     SweepRunner
	sweepToken  string
	idempotency *idempotencyStore
	logger      zerolog.Logger

	checkNames []string
	checks     map[string]HealthCheck
}

func NewAPI(jobs JobService, sweeper SweepRunner, sweepToken string, logger zerolog.Logger) *API {
	return &API{
		jobs:        jobs,
		sweeper:     sweeper,
		sweepToken:  sweepToken,
		idempotency: newIdempotencyStore(24 * time.Hour),
		logger:      logger.With().Str("component", "http").Logger(),
		checks:      make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a dependency probe for /healthz. Not safe to call
// once the server is serving.
func (api *API) AddHealthCheck(name string, check HealthCheck) {
	if _, exists := api.checks[name]; !exists {
		api.checkNames = append(api.checkNames, name)
	}
	api.checks[name] = check
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	CreatedAt   time.Time
}

// idempotencyStore remembers submit keys per owner for ttl. It is process
// local; a restart only loses deduplication, never jobs.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idempotencyEntry
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > s.ttl {
		delete(s.entries, key)
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for existing, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, existing)
		}
	}
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       jobID,
		CreatedAt:   now,
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
