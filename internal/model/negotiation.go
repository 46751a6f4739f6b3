package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidNegotiationRequest = errors.New("invalid negotiation request")

// NegotiationRequest identifies the asset to negotiate for and the counterparty offering it.
// Build it with NewNegotiationRequest; all fields are non-empty afterwards.
type NegotiationRequest struct {
	AssetID                 string `json:"asset_id"`
	CounterpartyProtocolURL string `json:"counterparty_protocol_url"`
	CounterpartyConnectorID string `json:"counterparty_connector_id"`
	CounterpartyHost        string `json:"counterparty_host"`
}

func NewNegotiationRequest(assetID, protocolURL, connectorID, host string) (NegotiationRequest, error) {
	req := NegotiationRequest{
		AssetID:                 strings.TrimSpace(assetID),
		CounterpartyProtocolURL: strings.TrimSpace(protocolURL),
		CounterpartyConnectorID: strings.TrimSpace(connectorID),
		CounterpartyHost:        strings.TrimSpace(host),
	}

	switch {
	case req.AssetID == "":
		return NegotiationRequest{}, fmt.Errorf("%w: asset id is required", ErrInvalidNegotiationRequest)
	case req.CounterpartyProtocolURL == "":
		return NegotiationRequest{}, fmt.Errorf("%w: counterparty protocol url is required", ErrInvalidNegotiationRequest)
	case req.CounterpartyConnectorID == "":
		return NegotiationRequest{}, fmt.Errorf("%w: counterparty connector id is required", ErrInvalidNegotiationRequest)
	case req.CounterpartyHost == "":
		return NegotiationRequest{}, fmt.Errorf("%w: counterparty host is required", ErrInvalidNegotiationRequest)
	}

	u, err := url.Parse(req.CounterpartyProtocolURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NegotiationRequest{}, fmt.Errorf("%w: counterparty protocol url %q is not absolute", ErrInvalidNegotiationRequest, req.CounterpartyProtocolURL)
	}

	return req, nil
}
