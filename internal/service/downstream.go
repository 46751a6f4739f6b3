package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/model"
)

// DownstreamInvoker creates a DSS job with a streamed credential, falling back
// to the direct API-key path when the credentialed call fails.
type DownstreamInvoker interface {
	Invoke(ctx context.Context, bearerToken, endpointURL, userID string, spec model.JobSpec) (string, error)
}

type downstreamInvoker struct {
	client         *http.Client
	directURL      string
	apiKey         string
	webhookBaseURL string
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewDownstreamInvoker(cfg config.DownstreamConfig, webhookBaseURL string, m *metrics.Metrics, l *slog.Logger) DownstreamInvoker {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if l == nil {
		l = slog.Default()
	}
	return &downstreamInvoker{
		client:         &http.Client{Timeout: timeout},
		directURL:      strings.TrimRight(cfg.DSSDirectURL, "/"),
		apiKey:         cfg.DSSAPIKey,
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
		metrics:        m,
		logger:         l,
	}
}

// CallbackURL is the webhook the DSS calls when a job for userID completes.
func CallbackURL(baseURL, userID string) string {
	return strings.TrimRight(baseURL, "/") + "/webhooks/dss-callback/" + url.PathEscape(userID)
}

func (d *downstreamInvoker) Invoke(ctx context.Context, bearerToken, endpointURL, userID string, spec model.JobSpec) (string, error) {
	span := logger.StartSpan(ctx, "downstream.invoke")
	defer span.End()
	ctx = span.Context()

	spec = spec.WithDefaults()
	callback := CallbackURL(d.webhookBaseURL, userID)

	// The token is sent verbatim, without a Bearer prefix.
	jobID, primaryErr := d.createJob(ctx, endpointURL, callback, spec, http.Header{"Authorization": {bearerToken}})
	if primaryErr == nil {
		d.metrics.RecordDownstreamCall("primary", "success")
		d.logger.InfoContext(ctx, "dss job created via connector", "job_id", jobID)
		span.SetAttributes("path", "primary", "job_id", jobID)
		return jobID, nil
	}

	primaryErr = fmt.Errorf("%w: %w", ErrDownstreamInvocation, primaryErr)
	d.metrics.RecordDownstreamCall("primary", "failure")
	d.logger.WarnContext(ctx, "connector call failed, falling back to direct dss call", "error", primaryErr)

	jobID, err := d.createJob(ctx, d.directURL+"/f1/jobs", callback, spec, http.Header{"X-API-Key": {d.apiKey}})
	if err != nil {
		d.metrics.RecordDownstreamCall("fallback", "failure")
		err = fmt.Errorf("%w: %w (after %v)", ErrDownstreamFallback, err, primaryErr)
		span.RecordError(err)
		return "", err
	}

	d.metrics.RecordDownstreamCall("fallback", "success")
	d.logger.InfoContext(ctx, "dss job created via direct call", "job_id", jobID)
	span.SetAttributes("path", "fallback", "job_id", jobID)
	return jobID, nil
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

func (d *downstreamInvoker) createJob(ctx context.Context, endpoint, callback string, spec model.JobSpec, headers http.Header) (string, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	query := target.Query()
	query.Set("callback_url", callback)
	target.RawQuery = query.Encode()

	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encoding job spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", target.Redacted(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("POST %s: status %d: %s", target.Redacted(), resp.StatusCode, logger.Truncate(strings.TrimSpace(string(respBody)), 200))
	}

	var out createJobResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("response has no job_id")
	}
	return out.JobID, nil
}
