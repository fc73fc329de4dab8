package domain

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindMealPlan    JobKind = "meal_plan"
	JobKindWorkoutPlan JobKind = "workout_plan"
)

func (k JobKind) Valid() bool {
	return k == JobKindMealPlan || k == JobKindWorkoutPlan
}

// ItemKind returns the catalog item kind a plan of this kind is built from.
func (k JobKind) ItemKind() ItemKind {
	if k == JobKindMealPlan {
		return ItemKindFood
	}
	return ItemKindExercise
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusExpired    JobStatus = "expired"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusExpired:
		return true
	default:
		return false
	}
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusExpired:
		return true
	default:
		return false
	}
}

// Job is a generation job. Only the orchestrator and the sweep mutate it.
// Version is bumped by the store on every update and must match on write.
// Hallucinations counts the attempts that failed on unresolvable ids.
type Job struct {
	ID             string
	OwnerID        string
	Kind           JobKind
	Fingerprint    string
	Status         JobStatus
	Params         json.RawMessage
	Result         json.RawMessage
	Error          *JobError
	Attempts       int
	Hallucinations int
	Regenerate     bool
	CacheHit       bool
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// QueueMessage is the transport format sent to queue backends to trigger
// inline processing of a job.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	OwnerID     string    `json:"owner_id"`
	Fingerprint string    `json:"fingerprint"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

type JobListItem struct {
	JobID     string
	Kind      JobKind
	Status    JobStatus
	CreatedAt time.Time
}

type JobListFilter struct {
	OwnerID  string
	Kind     JobKind
	Status   JobStatus
	Page     int
	PageSize int
}

// SweepFilter selects unfinished jobs that either went stale or expired.
type SweepFilter struct {
	Now         time.Time
	StaleBefore time.Time
	Limit       int
}
