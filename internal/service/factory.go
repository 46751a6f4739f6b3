package service

import (
	"log/slog"

	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/store"
)

type Services struct {
	cfg          config.Config
	ledger       store.RequestStore
	orchestrator Orchestrator
	invoker      DownstreamInvoker
	tasks        TaskSubmitter
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewServices(
	cfg config.Config,
	ledger store.RequestStore,
	conn ConnectorController,
	receivers ReceiverFactory,
	tasks TaskSubmitter,
	m *metrics.Metrics,
	l *slog.Logger,
) *Services {
	if l == nil {
		l = slog.Default()
	}
	return &Services{
		cfg:          cfg,
		ledger:       ledger,
		orchestrator: NewOrchestrator(conn, receivers, cfg.Pull.CredentialTimeout, m, l),
		invoker:      NewDownstreamInvoker(cfg.Downstream, cfg.PublicURL, m, l),
		tasks:        tasks,
		metrics:      m,
		logger:       l,
	}
}

func (s *Services) Orchestrator() Orchestrator {
	return s.orchestrator
}

func (s *Services) Downstream() DownstreamInvoker {
	return s.invoker
}

func (s *Services) ToolRequests() ToolRequestService {
	return NewToolRequestService(s.ledger, s.orchestrator, s.invoker, s.tasks, s.cfg.Connector, s.metrics, s.logger)
}

func (s *Services) Config() config.Config {
	return s.cfg
}
