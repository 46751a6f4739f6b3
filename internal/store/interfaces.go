package store

import (
	"context"
	"encoding/json"
	"errors"

	"dataspace.app/orchestrator/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateJob      = errors.New("job already assigned to another request")
)

// RequestStore defines the contract for the tool request ledger.
// Status changes only move forward; terminal records are never modified.
type RequestStore interface {
	Create(ctx context.Context, userID, buildingID, optimizationType string) (model.RequestRecord, error)
	Get(ctx context.Context, id string) (model.RequestRecord, error)
	// List returns records newest first.
	List(ctx context.Context) ([]model.RequestRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error
	// RecordJob stores the downstream job id and moves the record to dss_job_running.
	RecordJob(ctx context.Context, id, jobID string) error
	RecordResult(ctx context.Context, id string, result json.RawMessage) error
	RecordError(ctx context.Context, id string, message string) error
	// FindByCallback returns the single record owned by userID whose job id is jobID.
	FindByCallback(ctx context.Context, userID, jobID string) (model.RequestRecord, error)
	// ResolveByCallback completes the record matched by FindByCallback.
	ResolveByCallback(ctx context.Context, userID, jobID string, result json.RawMessage) (model.RequestRecord, error)
}
