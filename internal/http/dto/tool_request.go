package dto

import (
	"fmt"

	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/service"
)

type ToolRequest struct {
	UserID           string         `json:"user_id" binding:"required,max=255"`
	BuildingID       string         `json:"building_id" binding:"max=255"`
	OptimizationType string         `json:"optimization_type" binding:"max=255"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

func (r ToolRequest) ToService() service.ToolRequest {
	return service.ToolRequest{
		UserID:           r.UserID,
		BuildingID:       r.BuildingID,
		OptimizationType: r.OptimizationType,
		Parameters:       r.Parameters,
	}
}

type ToolResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func ToToolResponse(rec model.RequestRecord) ToolResponse {
	return ToolResponse{
		RequestID: rec.ID,
		Status:    string(rec.Status),
		Message: fmt.Sprintf("DSS F1 energy optimization request initiated for building %s (%s)",
			rec.BuildingID, rec.OptimizationType),
	}
}

type ListRequestsResponse struct {
	Requests []model.RequestRecord `json:"requests"`
}

type CallbackResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// InitiateQuery overrides the configured counterparty for a one-off exchange.
type InitiateQuery struct {
	AssetID      string `form:"asset_id"`
	ProtocolURL  string `form:"provider_connector_protocol_url"`
	ConnectorID  string `form:"provider_connector_id"`
	ProviderHost string `form:"provider_host"`
}

type InitiateResponse struct {
	BearerToken string `json:"bearer_token"`
	EndpointURL string `json:"endpoint_url"`
}
