package store

import (
	"encoding/json"
	"fmt"
	"time"

	"dataspace.app/orchestrator/common/id"
	"dataspace.app/orchestrator/internal/model"
)

const requestIDTimeLayout = "20060102_150405"

// NewRequestID returns req_{YYYYMMDD_HHMMSS}_{user}_{token}: sortable by
// creation time, readable, and unique within the same second.
func NewRequestID(now time.Time, userID string) string {
	return fmt.Sprintf("req_%s_%s_%s", now.UTC().Format(requestIDTimeLayout), userID, id.NewToken())
}

func newRequestRecord(now time.Time, userID, buildingID, optimizationType string) model.RequestRecord {
	now = now.UTC()
	return model.RequestRecord{
		ID:               NewRequestID(now, userID),
		UserID:           userID,
		BuildingID:       buildingID,
		OptimizationType: optimizationType,
		Status:           model.RequestStatusInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func transition(rec *model.RequestRecord, next model.RequestStatus, now time.Time) error {
	if !rec.Status.CanTransition(next) {
		return fmt.Errorf("%w: request %s %s -> %s", ErrInvalidTransition, rec.ID, rec.Status, next)
	}
	now = now.UTC()
	rec.Status = next
	rec.UpdatedAt = now
	if next.IsTerminal() {
		rec.CompletedAt = &now
	}
	return nil
}

func assignJob(rec *model.RequestRecord, jobID string, now time.Time) error {
	if jobID == "" {
		return fmt.Errorf("request %s: job id is required", rec.ID)
	}
	if err := transition(rec, model.RequestStatusDSSJobRunning, now); err != nil {
		return err
	}
	rec.DSSJobID = &jobID
	return nil
}

func complete(rec *model.RequestRecord, result json.RawMessage, now time.Time) error {
	if err := transition(rec, model.RequestStatusCompleted, now); err != nil {
		return err
	}
	if len(result) > 0 {
		rec.Result = append(json.RawMessage(nil), result...)
	}
	return nil
}

func fail(rec *model.RequestRecord, message string, now time.Time) error {
	if err := transition(rec, model.RequestStatusFailed, now); err != nil {
		return err
	}
	rec.Error = &message
	return nil
}
