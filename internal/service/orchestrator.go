package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/connector"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/pull"
)

// ConnectorController is the control-plane capability of our own connector.
type ConnectorController interface {
	Negotiate(ctx context.Context, protocolURL, connectorID, assetQuery string) (connector.TransferDetails, error)
	Transfer(ctx context.Context, details connector.TransferDetails, providerPush bool) (string, error)
}

// CredentialReceiver is the listening side of one orchestration attempt.
type CredentialReceiver interface {
	Listen(ctx context.Context, providerHost string) error
	Await(ctx context.Context, transferID string, timeout time.Duration) (model.CredentialRecord, error)
	Stop()
}

// ReceiverFactory returns a fresh receiver for every attempt.
type ReceiverFactory func() CredentialReceiver

func NewPullReceiverFactory(cfg config.PullConfig, l *slog.Logger) ReceiverFactory {
	return func() CredentialReceiver {
		return pull.NewReceiver(cfg.BackendURL, cfg.APIKey, pull.WithLogger(l))
	}
}

type Orchestrator interface {
	Orchestrate(ctx context.Context, req model.NegotiationRequest) (model.Credential, error)
}

type orchestrator struct {
	connector         ConnectorController
	receivers         ReceiverFactory
	credentialTimeout time.Duration
	metrics           *metrics.Metrics
	logger            *slog.Logger
}

func NewOrchestrator(conn ConnectorController, receivers ReceiverFactory, credentialTimeout time.Duration, m *metrics.Metrics, l *slog.Logger) Orchestrator {
	if credentialTimeout <= 0 {
		credentialTimeout = 60 * time.Second
	}
	if l == nil {
		l = slog.Default()
	}
	return &orchestrator{
		connector:         conn,
		receivers:         receivers,
		credentialTimeout: credentialTimeout,
		metrics:           m,
		logger:            l,
	}
}

// Orchestrate negotiates a contract for the asset, starts a pull transfer and
// waits for the transfer's credential on the provider stream. The stream
// listener is stopped and joined on every return path.
func (o *orchestrator) Orchestrate(ctx context.Context, req model.NegotiationRequest) (cred model.Credential, err error) {
	start := time.Now()
	span := logger.StartSpan(ctx, "orchestrator.negotiate_transfer")
	span.SetAttributes("asset_id", req.AssetID, "counterparty_connector_id", req.CounterpartyConnectorID)
	ctx = logger.WithLogFields(span.Context(), logger.LogFields{
		AssetID:   logger.Ptr(req.AssetID),
		Component: "orchestrator.service.orchestrator",
	})

	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		o.metrics.RecordOrchestration(orchestrationOutcome(err), time.Since(start))
		span.End()
	}()

	receiver := o.receivers()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receiver.Listen(gctx, req.CounterpartyHost)
	})

	defer func() {
		receiver.Stop()
		listenErr := g.Wait()
		if listenErr == nil {
			return
		}
		if err != nil {
			err = errors.Join(listenErr, err)
			return
		}
		o.logger.WarnContext(ctx, "credential listener failed after credentials were received", "error", listenErr)
	}()

	o.logger.InfoContext(ctx, "starting negotiation", "counterparty", req.CounterpartyConnectorID)

	details, err := o.connector.Negotiate(gctx, req.CounterpartyProtocolURL, req.CounterpartyConnectorID, req.AssetID)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: negotiating asset %s: %w", ErrNegotiation, req.AssetID, err)
	}

	transferID, err := o.connector.Transfer(gctx, details, false)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: starting transfer for asset %s: %w", ErrNegotiation, req.AssetID, err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{TransferID: logger.Ptr(transferID)})
	span.SetAttributes("transfer_id", transferID)
	o.logger.InfoContext(ctx, "transfer process initiated, waiting for credentials")

	waitStart := time.Now()
	rec, err := receiver.Await(gctx, transferID, o.credentialTimeout)
	o.metrics.RecordCredentialWait(time.Since(waitStart))
	if err != nil {
		return model.Credential{}, err
	}

	if rec.AuthCode == "" {
		return model.Credential{}, &MissingCredentialFieldError{TransferID: transferID, Field: "auth_code"}
	}
	if rec.Endpoint == "" {
		return model.Credential{}, &MissingCredentialFieldError{TransferID: transferID, Field: "endpoint"}
	}

	o.logger.InfoContext(ctx, "credentials received", "endpoint", rec.Endpoint)
	return model.Credential{BearerToken: rec.AuthCode, EndpointURL: rec.Endpoint}, nil
}

func orchestrationOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrStreamFailed):
		return "stream_failed"
	case errors.Is(err, ErrNegotiation):
		return "negotiation_failed"
	case errors.Is(err, ErrCredentialTimeout):
		return "credential_timeout"
	case errors.Is(err, ErrMissingCredentialField):
		return "missing_credential_field"
	default:
		return "error"
	}
}
