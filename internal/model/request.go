package model

import (
	"encoding/json"
	"time"
)

type RequestStatus string

const (
	RequestStatusInitiated     RequestStatus = "initiated"
	RequestStatusProcessing    RequestStatus = "processing"
	RequestStatusDSSJobRunning RequestStatus = "dss_job_running"
	RequestStatusCompleted     RequestStatus = "completed"
	RequestStatusFailed        RequestStatus = "failed"
)

var requestStatusRank = map[RequestStatus]int{
	RequestStatusInitiated:     0,
	RequestStatusProcessing:    1,
	RequestStatusDSSJobRunning: 2,
	RequestStatusCompleted:     3,
	RequestStatusFailed:        3,
}

func (s RequestStatus) Valid() bool {
	_, ok := requestStatusRank[s]
	return ok
}

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// CanTransition reports whether moving from s to next keeps the status moving forward.
// Terminal statuses accept nothing; any live status may fail.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return requestStatusRank[next] > requestStatusRank[s]
}

type RequestRecord struct {
	ID               string          `json:"request_id"`
	UserID           string          `json:"user_id"`
	BuildingID       string          `json:"building_id"`
	OptimizationType string          `json:"optimization_type"`
	Status           RequestStatus   `json:"status"`
	DSSJobID         *string         `json:"dss_job_id,omitempty"`
	Result           json.RawMessage `json:"dss_result,omitempty"`
	Error            *string         `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// MatchesCallback reports whether a callback for (userID, jobID) belongs to this record.
func (r *RequestRecord) MatchesCallback(userID, jobID string) bool {
	return r.UserID == userID && r.DSSJobID != nil && *r.DSSJobID == jobID
}

func (r RequestRecord) Clone() RequestRecord {
	out := r
	if r.DSSJobID != nil {
		v := *r.DSSJobID
		out.DSSJobID = &v
	}
	if r.Error != nil {
		v := *r.Error
		out.Error = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		out.CompletedAt = &v
	}
	if r.Result != nil {
		out.Result = append(json.RawMessage(nil), r.Result...)
	}
	return out
}
