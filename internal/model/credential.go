package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CredentialRecord is one endpoint data reference delivered over the pull stream.
type CredentialRecord struct {
	TransferProcessID string         `json:"transfer_process_id"`
	AuthCode          string         `json:"auth_code"`
	Endpoint          string         `json:"endpoint"`
	Raw               map[string]any `json:"-"`
	ReceivedAt        time.Time      `json:"-"`
}

// ParseCredentialRecord decodes a stream data payload. The payload must be a JSON object;
// fields other than the three known ones are kept in Raw.
func ParseCredentialRecord(data []byte) (CredentialRecord, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return CredentialRecord{}, fmt.Errorf("decoding credential payload: %w", err)
	}
	if raw == nil {
		return CredentialRecord{}, fmt.Errorf("credential payload is not an object")
	}

	return CredentialRecord{
		TransferProcessID: stringField(raw, "transfer_process_id"),
		AuthCode:          stringField(raw, "auth_code"),
		Endpoint:          stringField(raw, "endpoint"),
		Raw:               raw,
		ReceivedAt:        time.Now().UTC(),
	}, nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Credential is the validated bearer token and endpoint needed to call the protected service.
type Credential struct {
	BearerToken string `json:"bearer_token"`
	EndpointURL string `json:"endpoint_url"`
}

// PullMessage is what the pull backend publishes for each endpoint data reference it
// receives from the connector, and what the receiver reads back off the stream.
type PullMessage struct {
	TransferProcessID string    `json:"transfer_process_id"`
	AuthCode          string    `json:"auth_code"`
	AuthKey           string    `json:"auth_key,omitempty"`
	Endpoint          string    `json:"endpoint"`
	ContractID        string    `json:"contract_id,omitempty"`
	ProviderHost      string    `json:"provider_host"`
	ReceivedAt        time.Time `json:"received_at"`
}
