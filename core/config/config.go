package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"dataspace.app/orchestrator/core/db"
)

type Config struct {
	OTel       OTelConfig
	Connector  ConnectorConfig
	Pull       PullConfig
	Downstream DownstreamConfig
	Ledger     LedgerConfig
	Redis      RedisConfig
	Dispatcher DispatcherConfig
	DSS        DSSConfig
	Env        string
	Port       string
	// PublicURL is how the DSS reaches this service, used to build webhook callback URLs.
	PublicURL string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// ConnectorConfig describes our own (consumer) connector's management API and the
// counterparty we negotiate with for the F1 tool.
type ConnectorConfig struct {
	ManagementURL           string
	APIKey                  string
	APIKeyHeader            string
	ParticipantID           string
	CounterpartyProtocolURL string
	CounterpartyConnectorID string
	CounterpartyHost        string
	AssetID                 string
	PollInterval            time.Duration
	StateTimeout            time.Duration
}

// PullConfig points at the consumer pull backend that streams endpoint data references.
type PullConfig struct {
	BackendURL        string
	APIKey            string
	CredentialTimeout time.Duration
}

type DownstreamConfig struct {
	DSSDirectURL   string
	DSSAPIKey      string
	RequestTimeout time.Duration
}

type LedgerConfig struct {
	DB     db.Config
	// NodeID keeps request ids unique across replicas writing one ledger.
	NodeID int64
}

type RedisConfig struct {
	URL          string
	StreamPrefix string
	StreamMaxLen int64
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

type DSSConfig struct {
	BackendAPIKey  string
	StepDuration   time.Duration
	WebhookTimeout time.Duration
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeDSS    ServiceType = "dss"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the dashboard backend
//   - .env.dss for the DSS job service
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("APP_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	dashboardAPIKey := getEnv("DASHBOARD_API_KEY", "dashboard-api-key")

	cfg := Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8000"),
		PublicURL: getEnv("PUBLIC_URL", "http://dashboard_api:8000"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "dashboard-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Connector: ConnectorConfig{
			ManagementURL: fmt.Sprintf("%s://%s:%d/management",
				getEnv("CONNECTOR_SCHEME", "http"),
				getEnv("DASHBOARD_CONNECTOR_HOST", "dashboard_connector"),
				getEnvInt("DASHBOARD_CONNECTOR_MANAGEMENT_PORT", 29193),
			),
			APIKey:                  dashboardAPIKey,
			APIKeyHeader:            getEnv("CONNECTOR_API_KEY_HEADER", "X-API-Key"),
			ParticipantID:           getEnv("DASHBOARD_PARTICIPANT_ID", "dashboard-participant"),
			CounterpartyProtocolURL: getEnv("DSS_CONNECTOR_PROTOCOL_URL", "http://dss_connector:19194/protocol"),
			CounterpartyConnectorID: getEnv("DSS_CONNECTOR_ID", "dss-participant"),
			CounterpartyHost:        getEnv("DSS_PROVIDER_HOST", "dss_connector:19194"),
			AssetID:                 getEnv("DSS_F1_ASSET_ID", "POST-f1-jobs"),
			PollInterval:            getEnvDuration("CONNECTOR_POLL_INTERVAL", time.Second),
			StateTimeout:            getEnvDuration("CONNECTOR_STATE_TIMEOUT", 60*time.Second),
		},
		Pull: PullConfig{
			BackendURL:        getEnv("DASHBOARD_BACKEND_URL", "http://dashboard_backend:28000"),
			APIKey:            dashboardAPIKey,
			CredentialTimeout: getEnvDuration("CREDENTIALS_TIMEOUT", 60*time.Second),
		},
		Downstream: DownstreamConfig{
			DSSDirectURL:   getEnv("DSS_API_URL", "http://dss_mock_api:8000"),
			DSSAPIKey:      getEnv("DSS_BACKEND_KEY", "dss-backend-key"),
			RequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
		},
		Ledger: LedgerConfig{
			DB: db.Config{
				DSN:      getEnv("LEDGER_DATABASE_URL", ""),
				MaxConns: getEnvInt32("LEDGER_DB_MAX_CONNS", 10),
				MinConns: getEnvInt32("LEDGER_DB_MIN_CONNS", 2),
			},
			NodeID: int64(getEnvInt("LEDGER_NODE_ID", 1)),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			StreamPrefix: getEnv("PULL_STREAM_PREFIX", "pull:provider:"),
			StreamMaxLen: int64(getEnvInt("PULL_STREAM_MAX_LEN", 1000)),
		},
		Dispatcher: DispatcherConfig{
			Workers:   getEnvInt("DISPATCHER_WORKERS", 4),
			QueueSize: getEnvInt("DISPATCHER_QUEUE_SIZE", 64),
		},
		DSS: DSSConfig{
			BackendAPIKey:  getEnv("BACKEND_API_KEY", ""),
			StepDuration:   getEnvDuration("DSS_STEP_DURATION", 2*time.Second),
			WebhookTimeout: getEnvDuration("DSS_WEBHOOK_TIMEOUT", 5*time.Second),
		},
	}

	if serviceType == ServiceTypeServer {
		if cfg.Pull.BackendURL == "" {
			return Config{}, fmt.Errorf("DASHBOARD_BACKEND_URL is required")
		}
		if cfg.PublicURL == "" {
			return Config{}, fmt.Errorf("PUBLIC_URL is required")
		}
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LedgerConfig) Enabled() bool {
	return c.DB.DSN != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("2s", "500ms") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
