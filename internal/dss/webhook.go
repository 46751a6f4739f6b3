package dss

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dataspace.app/orchestrator/internal/model"
)

// Notifier delivers job completion callbacks.
type Notifier interface {
	Send(ctx context.Context, callbackURL string, payload model.CallbackPayload) error
}

// WebhookSender posts callback payloads as JSON. One attempt per call.
type WebhookSender struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhookSender(timeout time.Duration, logger *slog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (s *WebhookSender) Send(ctx context.Context, callbackURL string, payload model.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	s.logger.InfoContext(ctx, "webhook sent", "callback_url", callbackURL, "job_id", payload.JobID)
	return nil
}
