package pull

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"dataspace.app/orchestrator/common"
	"dataspace.app/orchestrator/internal/model"
)

const (
	dataPrefix    = "data: "
	maxLineLength = 1024 * 1024
)

type ReceiverOption func(*Receiver)

func WithHTTPClient(client *http.Client) ReceiverOption {
	return func(r *Receiver) {
		if client != nil {
			r.client = client
		}
	}
}

func WithLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Receiver listens on the pull backend's provider stream and hands out
// credentials by transfer id. One Receiver serves one orchestration attempt.
type Receiver struct {
	backendURL string
	apiKey     string
	client     *http.Client
	logger     *slog.Logger
	waiters    *credentialWaiters

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	body    io.ReadCloser
}

func NewReceiver(backendURL, apiKey string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		backendURL: strings.TrimRight(backendURL, "/"),
		apiKey:     apiKey,
		client:     &http.Client{},
		logger:     slog.Default(),
		waiters:    newCredentialWaiters(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Receiver) StreamURL(providerHost string) string {
	return fmt.Sprintf("%s/pull/stream/provider/%s", r.backendURL, url.PathEscape(common.ExtractHostname(providerHost)))
}

// Listen blocks reading the stream for providerHost until Stop is called or ctx
// is cancelled, in which case it returns nil. Connection failures and an
// unexpected end of stream are returned wrapped in ErrStreamFailed.
func (r *Receiver) Listen(ctx context.Context, providerHost string) error {
	streamURL := r.StreamURL(providerHost)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrStreamFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	r.logger.InfoContext(ctx, "connecting to credential stream", "url", streamURL)

	resp, err := r.client.Do(req)
	if err != nil {
		if r.halted(ctx) {
			return nil
		}
		return fmt.Errorf("%w: connecting to %s: %w", ErrStreamFailed, streamURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned status %d", ErrStreamFailed, streamURL, resp.StatusCode)
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.body = resp.Body
	r.mu.Unlock()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		r.handleData(ctx, line[len(dataPrefix):])
	}

	if r.halted(ctx) {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading stream: %w", ErrStreamFailed, err)
	}
	return fmt.Errorf("%w: stream closed by server", ErrStreamFailed)
}

func (r *Receiver) handleData(ctx context.Context, data string) {
	rec, err := model.ParseCredentialRecord([]byte(data))
	if err != nil {
		r.logger.DebugContext(ctx, "skipping malformed stream line", "error", err)
		return
	}
	if rec.TransferProcessID == "" {
		return
	}

	r.waiters.deliver(rec)
	r.logger.InfoContext(ctx, "credential received", "transfer_id", rec.TransferProcessID)
}

// Await returns the credential for transferID, waiting up to timeout for it to arrive.
func (r *Receiver) Await(ctx context.Context, transferID string, timeout time.Duration) (model.CredentialRecord, error) {
	rec, ok, ready := r.waiters.lookup(transferID)
	if ok {
		return rec, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		rec, _, _ = r.waiters.lookup(transferID)
		return rec, nil
	case <-timer.C:
		return model.CredentialRecord{}, &CredentialTimeoutError{TransferID: transferID}
	case <-ctx.Done():
		return model.CredentialRecord{}, fmt.Errorf("waiting for credentials for transfer %s: %w", transferID, ctx.Err())
	}
}

// Stop is idempotent and safe to call before Listen has started or connected.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
	if r.body != nil {
		_ = r.body.Close()
	}
}

func (r *Receiver) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Receiver) halted(ctx context.Context) bool {
	return r.Stopped() || ctx.Err() != nil
}
