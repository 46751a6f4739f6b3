package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/store"
	"dataspace.app/orchestrator/internal/worker"
)

type ToolRequest struct {
	UserID           string         `json:"user_id"`
	BuildingID       string         `json:"building_id"`
	OptimizationType string         `json:"optimization_type"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

func (r ToolRequest) withDefaults() ToolRequest {
	r.UserID = strings.TrimSpace(r.UserID)
	spec := r.jobSpec().WithDefaults()
	r.BuildingID = spec.BuildingID
	r.OptimizationType = spec.OptimizationType
	return r
}

func (r ToolRequest) jobSpec() model.JobSpec {
	return model.JobSpec{
		BuildingID:       r.BuildingID,
		OptimizationType: r.OptimizationType,
		Parameters:       r.Parameters,
	}
}

// TaskSubmitter schedules background work.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

type ToolRequestService interface {
	// Submit records the request and schedules Process in the background.
	Submit(ctx context.Context, req ToolRequest) (model.RequestRecord, error)
	// Process runs negotiate, transfer, credential wait and job creation for a
	// recorded request. Failures end in a failed ledger entry.
	Process(ctx context.Context, requestID string, req ToolRequest) error
	Get(ctx context.Context, requestID string) (model.RequestRecord, error)
	List(ctx context.Context) ([]model.RequestRecord, error)
	HandleCallback(ctx context.Context, userID string, payload model.CallbackPayload) (model.RequestRecord, error)
	// Initiate runs only the negotiate/transfer/credential exchange.
	Initiate(ctx context.Context, req model.NegotiationRequest) (model.Credential, error)
}

type toolRequestService struct {
	ledger       store.RequestStore
	orchestrator Orchestrator
	invoker      DownstreamInvoker
	tasks        TaskSubmitter
	connector    config.ConnectorConfig
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewToolRequestService(
	ledger store.RequestStore,
	orchestrator Orchestrator,
	invoker DownstreamInvoker,
	tasks TaskSubmitter,
	connectorCfg config.ConnectorConfig,
	m *metrics.Metrics,
	l *slog.Logger,
) ToolRequestService {
	if l == nil {
		l = slog.Default()
	}
	return &toolRequestService{
		ledger:       ledger,
		orchestrator: orchestrator,
		invoker:      invoker,
		tasks:        tasks,
		connector:    connectorCfg,
		metrics:      m,
		logger:       l,
	}
}

func (s *toolRequestService) Submit(ctx context.Context, req ToolRequest) (model.RequestRecord, error) {
	req = req.withDefaults()
	if req.UserID == "" {
		return model.RequestRecord{}, fmt.Errorf("%w: user_id is required", ErrInvalidToolRequest)
	}

	rec, err := s.ledger.Create(ctx, req.UserID, req.BuildingID, req.OptimizationType)
	if err != nil {
		return model.RequestRecord{}, fmt.Errorf("creating request: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: logger.Ptr(rec.ID),
		UserID:    logger.Ptr(req.UserID),
		Component: "orchestrator.service.tool_request",
	})

	span := logger.StartSpan(ctx, "orchestrator.tool_request.submit")
	defer span.End()
	ctx = span.Context()
	span.SetAttributes("request_id", rec.ID, "user_id", req.UserID)

	requestID := rec.ID
	err = s.tasks.Submit(worker.Task{
		Name:      "process_tool_request",
		RequestID: requestID,
		TraceID:   span.TraceID(),
		Run: func(taskCtx context.Context) error {
			return s.Process(taskCtx, requestID, req)
		},
	})
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, requestID, fmt.Errorf("%w: %w", ErrDispatchUnavailable, err))
		return model.RequestRecord{}, fmt.Errorf("%w: %w", ErrDispatchUnavailable, err)
	}

	s.logger.InfoContext(ctx, "tool request initiated", "building_id", req.BuildingID, "optimization_type", req.OptimizationType)
	return rec, nil
}

func (s *toolRequestService) Process(ctx context.Context, requestID string, req ToolRequest) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RequestID: logger.Ptr(requestID),
		UserID:    logger.Ptr(req.UserID),
		Component: "orchestrator.service.tool_request",
	})

	// A request that is not initiated belongs to another run; leave it alone.
	if err := s.ledger.UpdateStatus(ctx, requestID, model.RequestStatusProcessing); err != nil {
		s.logger.WarnContext(ctx, "request not processable", "error", err)
		return fmt.Errorf("marking request processing: %w", err)
	}

	negotiation, err := model.NewNegotiationRequest(
		s.connector.AssetID,
		s.connector.CounterpartyProtocolURL,
		s.connector.CounterpartyConnectorID,
		s.connector.CounterpartyHost,
	)
	if err != nil {
		return s.fail(ctx, requestID, err)
	}

	cred, err := s.orchestrator.Orchestrate(ctx, negotiation)
	if err != nil {
		return s.fail(ctx, requestID, err)
	}

	jobID, err := s.invoker.Invoke(ctx, cred.BearerToken, cred.EndpointURL, req.UserID, req.jobSpec())
	if err != nil {
		return s.fail(ctx, requestID, err)
	}

	if err := s.ledger.RecordJob(ctx, requestID, jobID); err != nil {
		return s.fail(ctx, requestID, fmt.Errorf("recording job %s: %w", jobID, err))
	}

	s.metrics.RecordToolRequest(string(model.RequestStatusDSSJobRunning))
	s.logger.InfoContext(ctx, "tool request processed", "job_id", jobID)
	return nil
}

// fail records err on the request and returns it.
func (s *toolRequestService) fail(ctx context.Context, requestID string, err error) error {
	s.logger.ErrorContext(ctx, "tool request failed", "error", err)
	s.metrics.RecordToolRequest(string(model.RequestStatusFailed))

	if recErr := s.ledger.RecordError(ctx, requestID, err.Error()); recErr != nil {
		s.logger.ErrorContext(ctx, "recording request failure", "error", recErr)
	}
	return err
}

func (s *toolRequestService) Get(ctx context.Context, requestID string) (model.RequestRecord, error) {
	return s.ledger.Get(ctx, requestID)
}

func (s *toolRequestService) List(ctx context.Context) ([]model.RequestRecord, error) {
	return s.ledger.List(ctx)
}

func (s *toolRequestService) HandleCallback(ctx context.Context, userID string, payload model.CallbackPayload) (model.RequestRecord, error) {
	if err := payload.Validate(); err != nil {
		return model.RequestRecord{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		UserID:    logger.Ptr(userID),
		JobID:     logger.Ptr(payload.JobID),
		Component: "orchestrator.service.tool_request",
	})

	if payload.Status != string(model.JobStatusCompleted) {
		rec, err := s.ledger.FindByCallback(ctx, userID, payload.JobID)
		if err != nil {
			return model.RequestRecord{}, err
		}
		if err := s.ledger.RecordError(ctx, rec.ID, fmt.Sprintf("dss job %s ended with status %s", payload.JobID, payload.Status)); err != nil {
			return model.RequestRecord{}, err
		}
		s.metrics.RecordWebhook("inbound", payload.Status)
		return s.ledger.Get(ctx, rec.ID)
	}

	var result json.RawMessage
	if payload.Result != nil {
		encoded, err := json.Marshal(payload.Result)
		if err != nil {
			return model.RequestRecord{}, fmt.Errorf("encoding result: %w", err)
		}
		result = encoded
	}

	rec, err := s.ledger.ResolveByCallback(ctx, userID, payload.JobID, result)
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, store.ErrNotFound) {
			outcome = "unmatched"
			s.logger.WarnContext(ctx, "callback matched no request")
		}
		s.metrics.RecordWebhook("inbound", outcome)
		return model.RequestRecord{}, err
	}

	s.metrics.RecordWebhook("inbound", "completed")
	s.metrics.RecordToolRequest(string(model.RequestStatusCompleted))
	s.logger.InfoContext(ctx, "request completed from dss callback", "request_id", rec.ID)
	return rec, nil
}

func (s *toolRequestService) Initiate(ctx context.Context, req model.NegotiationRequest) (model.Credential, error) {
	return s.orchestrator.Orchestrate(ctx, req)
}
