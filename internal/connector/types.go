package connector

import "encoding/json"

const (
	edcNamespace  = "https://w3id.org/edc/v0.0.1/ns/"
	odrlContext   = "http://www.w3.org/ns/odrl.jsonld"
	dspProtocol   = "dataspace-protocol-http"
	TransferPull  = "HttpData-PULL"
	TransferPush  = "HttpData-PUSH"
	stateFinal    = "FINALIZED"
	stateStarted  = "STARTED"
	stateTerminal = "TERMINATED"
)

// TransferDetails is what a finished negotiation hands to the transfer step.
type TransferDetails struct {
	CounterpartyProtocolURL string `json:"counterparty_protocol_url"`
	CounterpartyConnectorID string `json:"counterparty_connector_id"`
	ContractAgreementID     string `json:"contract_agreement_id"`
	AssetID                 string `json:"asset_id"`
}

type jsonLDContext struct {
	Vocab string `json:"@vocab"`
}

type criterion struct {
	OperandLeft  string `json:"operandLeft"`
	Operator     string `json:"operator"`
	OperandRight string `json:"operandRight"`
}

type querySpec struct {
	FilterExpression []criterion `json:"filterExpression"`
}

type catalogRequest struct {
	Context             jsonLDContext `json:"@context"`
	Type                string        `json:"@type"`
	CounterPartyAddress string        `json:"counterPartyAddress"`
	CounterPartyID      string        `json:"counterPartyId"`
	Protocol            string        `json:"protocol"`
	QuerySpec           querySpec     `json:"querySpec"`
}

type catalog struct {
	Dataset json.RawMessage `json:"dcat:dataset"`
}

type dataset struct {
	ID     string          `json:"@id"`
	Policy json.RawMessage `json:"odrl:hasPolicy"`
}

type contractRequest struct {
	Context             jsonLDContext  `json:"@context"`
	Type                string         `json:"@type"`
	CounterPartyAddress string         `json:"counterPartyAddress"`
	Protocol            string         `json:"protocol"`
	Policy              map[string]any `json:"policy"`
}

type transferRequest struct {
	Context             jsonLDContext `json:"@context"`
	Type                string        `json:"@type"`
	AssetID             string        `json:"assetId"`
	CounterPartyAddress string        `json:"counterPartyAddress"`
	ConnectorID         string        `json:"connectorId"`
	ContractID          string        `json:"contractId"`
	Protocol            string        `json:"protocol"`
	TransferType        string        `json:"transferType"`
}

type idResponse struct {
	ID string `json:"@id"`
}

type stateResponse struct {
	ID                  string `json:"@id"`
	State               string `json:"state"`
	ContractAgreementID string `json:"contractAgreementId"`
	ErrorDetail         string `json:"errorDetail"`
}

// firstOf decodes a JSON-LD value that may be a single object or an array of objects.
func firstOf[T any](raw json.RawMessage) (T, bool) {
	var zero T
	if len(raw) == 0 || string(raw) == "null" {
		return zero, false
	}

	var many []T
	if err := json.Unmarshal(raw, &many); err == nil {
		if len(many) == 0 {
			return zero, false
		}
		return many[0], true
	}

	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return zero, false
	}
	return one, true
}
