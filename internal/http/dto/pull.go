package dto

import (
	"strings"
	"time"

	"dataspace.app/orchestrator/common"
	"dataspace.app/orchestrator/internal/model"
)

// EndpointDataReference is what the connector POSTs to the pull backend once a
// pull transfer starts. Connectors disagree on the id field name, so both are accepted.
type EndpointDataReference struct {
	ID                string `json:"id"`
	TransferProcessID string `json:"transfer_process_id"`
	Endpoint          string `json:"endpoint" binding:"required"`
	AuthKey           string `json:"authKey"`
	AuthCode          string `json:"authCode"`
	ContractID        string `json:"contractId"`
}

func (r EndpointDataReference) TransferID() string {
	if id := strings.TrimSpace(r.TransferProcessID); id != "" {
		return id
	}
	return strings.TrimSpace(r.ID)
}

func (r EndpointDataReference) ToMessage(now time.Time) model.PullMessage {
	return model.PullMessage{
		TransferProcessID: r.TransferID(),
		AuthCode:          r.AuthCode,
		AuthKey:           r.AuthKey,
		Endpoint:          r.Endpoint,
		ContractID:        r.ContractID,
		ProviderHost:      common.ExtractHostname(r.Endpoint),
		ReceivedAt:        now.UTC(),
	}
}

type PublishResponse struct {
	Status    string `json:"status"`
	Stream    string `json:"stream"`
	MessageID string `json:"message_id"`
}
