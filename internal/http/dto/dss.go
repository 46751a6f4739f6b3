package dto

import (
	"fmt"
	"time"

	"dataspace.app/orchestrator/internal/model"
)

type CreateJobRequest struct {
	BuildingID       string         `json:"building_id" binding:"max=255"`
	OptimizationType string         `json:"optimization_type" binding:"max=255"`
	Parameters       map[string]any `json:"parameters"`
}

func (r CreateJobRequest) ToSpec() model.JobSpec {
	return model.JobSpec{
		BuildingID:       r.BuildingID,
		OptimizationType: r.OptimizationType,
		Parameters:       r.Parameters,
	}.WithDefaults()
}

type JobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func ToJobResponse(job model.JobRecord) JobResponse {
	return JobResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		Message: fmt.Sprintf("Energy optimization job created for building %s (%s)",
			job.BuildingID, job.OptimizationType),
		CreatedAt: job.CreatedAt,
	}
}

type JobStatusResponse struct {
	JobID       string                    `json:"job_id"`
	Status      string                    `json:"status"`
	Progress    int                       `json:"progress"`
	Result      *model.OptimizationResult `json:"result"`
	Error       *string                   `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	CompletedAt *time.Time                `json:"completed_at"`
}

func ToJobStatusResponse(job model.JobRecord) JobStatusResponse {
	return JobStatusResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}

type ListJobsResponse struct {
	Jobs []model.JobRecord `json:"jobs"`
}
