package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobSpec is the body sent to the DSS job-creation endpoint.
type JobSpec struct {
	BuildingID       string         `json:"building_id"`
	OptimizationType string         `json:"optimization_type"`
	Parameters       map[string]any `json:"parameters"`
}

const (
	DefaultBuildingID       = "building_001"
	DefaultOptimizationType = "energy_efficiency"
)

// WithDefaults fills empty fields the way the DSS API does.
func (s JobSpec) WithDefaults() JobSpec {
	if s.BuildingID == "" {
		s.BuildingID = DefaultBuildingID
	}
	if s.OptimizationType == "" {
		s.OptimizationType = DefaultOptimizationType
	}
	if s.Parameters == nil {
		s.Parameters = map[string]any{}
	}
	return s
}

type OptimizationResult struct {
	EnergySavingsKWh   float64  `json:"energy_savings_kwh"`
	CostReductionEUR   float64  `json:"cost_reduction_eur"`
	CO2ReductionKg     float64  `json:"co2_reduction_kg"`
	OptimizationScore  float64  `json:"optimization_score"`
	RecommendedActions []string `json:"recommended_actions"`
}

type JobRecord struct {
	ID               string              `json:"job_id"`
	Status           JobStatus           `json:"status"`
	Progress         int                 `json:"progress"`
	BuildingID       string              `json:"building_id"`
	OptimizationType string              `json:"optimization_type"`
	Parameters       map[string]any      `json:"parameters"`
	CreatedAt        time.Time           `json:"created_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	Result           *OptimizationResult `json:"result,omitempty"`
	Error            *string             `json:"error,omitempty"`
	CallbackURL      *string             `json:"callback_url,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j JobRecord) Clone() JobRecord {
	out := j
	if j.Parameters != nil {
		out.Parameters = make(map[string]any, len(j.Parameters))
		for k, v := range j.Parameters {
			out.Parameters[k] = v
		}
	}
	if j.Result != nil {
		r := *j.Result
		r.RecommendedActions = append([]string(nil), j.Result.RecommendedActions...)
		out.Result = &r
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.CallbackURL != nil {
		c := *j.CallbackURL
		out.CallbackURL = &c
	}
	return out
}

// CallbackPayload is the completion notification the DSS posts to the dashboard webhook.
type CallbackPayload struct {
	JobID  string              `json:"job_id"`
	Status string              `json:"status"`
	Result *OptimizationResult `json:"result,omitempty"`
}

var ErrInvalidCallback = errors.New("invalid callback payload")

// Validate rejects payloads that cannot be matched to a job.
func (p CallbackPayload) Validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidCallback)
	}
	switch JobStatus(p.Status) {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("%w: unexpected status %q", ErrInvalidCallback, p.Status)
	}
}
