package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dataspace.app/orchestrator/core/config"
)

var (
	ErrNoOffer    = errors.New("no contract offer for asset")
	ErrTerminated = errors.New("connector process terminated")
	ErrTimeout    = errors.New("connector process did not reach expected state")
)

// Client drives the consumer connector's management API through catalog
// lookup, contract negotiation and transfer process start.
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	pollInterval time.Duration
	stateTimeout time.Duration
	http         *http.Client
	logger       *slog.Logger
}

func NewClient(cfg config.ConnectorConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	timeout := cfg.StateTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.ManagementURL, "/"),
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		pollInterval: poll,
		stateTimeout: timeout,
		http:         httpClient,
		logger:       logger,
	}
}

func (c *Client) Negotiate(ctx context.Context, protocolURL, connectorID, assetQuery string) (TransferDetails, error) {
	ds, err := c.findDataset(ctx, protocolURL, connectorID, assetQuery)
	if err != nil {
		return TransferDetails{}, err
	}

	offer, ok := firstOf[map[string]any](ds.Policy)
	if !ok {
		return TransferDetails{}, fmt.Errorf("%w %s", ErrNoOffer, assetQuery)
	}
	offer["@context"] = odrlContext
	offer["@type"] = "Offer"
	offer["assigner"] = connectorID
	offer["target"] = ds.ID

	var created idResponse
	err = c.do(ctx, http.MethodPost, "/v3/contractnegotiations", contractRequest{
		Context:             jsonLDContext{Vocab: edcNamespace},
		Type:                "ContractRequest",
		CounterPartyAddress: protocolURL,
		Protocol:            dspProtocol,
		Policy:              offer,
	}, &created)
	if err != nil {
		return TransferDetails{}, fmt.Errorf("starting contract negotiation: %w", err)
	}

	c.logger.InfoContext(ctx, "contract negotiation started", "negotiation_id", created.ID, "asset_id", ds.ID)

	state, err := c.waitForState(ctx, "/v3/contractnegotiations/"+url.PathEscape(created.ID), stateFinal)
	if err != nil {
		return TransferDetails{}, fmt.Errorf("contract negotiation %s: %w", created.ID, err)
	}

	return TransferDetails{
		CounterpartyProtocolURL: protocolURL,
		CounterpartyConnectorID: connectorID,
		ContractAgreementID:     state.ContractAgreementID,
		AssetID:                 ds.ID,
	}, nil
}

func (c *Client) Transfer(ctx context.Context, details TransferDetails, providerPush bool) (string, error) {
	transferType := TransferPull
	if providerPush {
		transferType = TransferPush
	}

	var created idResponse
	err := c.do(ctx, http.MethodPost, "/v3/transferprocesses", transferRequest{
		Context:             jsonLDContext{Vocab: edcNamespace},
		Type:                "TransferRequest",
		AssetID:             details.AssetID,
		CounterPartyAddress: details.CounterpartyProtocolURL,
		ConnectorID:         details.CounterpartyConnectorID,
		ContractID:          details.ContractAgreementID,
		Protocol:            dspProtocol,
		TransferType:        transferType,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("starting transfer process: %w", err)
	}

	c.logger.InfoContext(ctx, "transfer process started", "transfer_id", created.ID, "transfer_type", transferType)

	if _, err := c.waitForState(ctx, "/v3/transferprocesses/"+url.PathEscape(created.ID), stateStarted); err != nil {
		return "", fmt.Errorf("transfer process %s: %w", created.ID, err)
	}
	return created.ID, nil
}

func (c *Client) findDataset(ctx context.Context, protocolURL, connectorID, assetQuery string) (dataset, error) {
	var cat catalog
	err := c.do(ctx, http.MethodPost, "/v3/catalog/request", catalogRequest{
		Context:             jsonLDContext{Vocab: edcNamespace},
		Type:                "CatalogRequest",
		CounterPartyAddress: protocolURL,
		CounterPartyID:      connectorID,
		Protocol:            dspProtocol,
		QuerySpec: querySpec{FilterExpression: []criterion{{
			OperandLeft:  edcNamespace + "id",
			Operator:     "=",
			OperandRight: assetQuery,
		}}},
	}, &cat)
	if err != nil {
		return dataset{}, fmt.Errorf("requesting catalog: %w", err)
	}

	ds, ok := firstOf[dataset](cat.Dataset)
	if !ok || ds.ID == "" {
		return dataset{}, fmt.Errorf("%w %s", ErrNoOffer, assetQuery)
	}
	return ds, nil
}

func (c *Client) waitForState(ctx context.Context, path, want string) (stateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.stateTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var state stateResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &state); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return stateResponse{}, fmt.Errorf("%w %s: %w", ErrTimeout, want, err)
			}
			return stateResponse{}, err
		}

		switch state.State {
		case want:
			return state, nil
		case stateTerminal:
			if state.ErrorDetail != "" {
				return stateResponse{}, fmt.Errorf("%w: %s", ErrTerminated, state.ErrorDetail)
			}
			return stateResponse{}, ErrTerminated
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return stateResponse{}, fmt.Errorf("%w %s (last %s)", ErrTimeout, want, state.State)
			}
			return stateResponse{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
