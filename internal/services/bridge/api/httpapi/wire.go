package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/game"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger"
)

// resourceRef is a resource given either as a token id or as a name.
type resourceRef string

func (r *resourceRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = resourceRef(name)
		return nil
	}
	var id json.Number
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("resource id must be a number or a name: %w", err)
	}
	*r = resourceRef(id.String())
	return nil
}

func (r resourceRef) kind() (domain.ResourceKind, error) {
	return domain.ParseResourceKind(string(r))
}

type resourceLine struct {
	ID       resourceRef `json:"id"`
	Cantidad *int64      `json:"cantidad"`
}

type resourceLines []resourceLine

func (lines resourceLines) items() ([]domain.ResourceQuantity, error) {
	items := make([]domain.ResourceQuantity, 0, len(lines))
	for i, line := range lines {
		kind, err := line.ID.kind()
		if err != nil {
			return nil, err
		}
		if line.Cantidad == nil || *line.Cantidad <= 0 {
			return nil, apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("resources[%d]: cantidad must be positive", i))
		}
		items = append(items, domain.ResourceQuantity{Kind: kind, Amount: uint64(*line.Cantidad)})
	}
	return items, nil
}

type tradeRequest struct {
	Origin      string        `json:"origin"`
	Destination string        `json:"destination"`
	Resources   resourceLines `json:"resources"`
}

type robberRequest struct {
	Atacante  string      `json:"atacante"`
	Victima   string      `json:"victima"`
	RecursoID resourceRef `json:"recurso_id"`
}

type productionRequest struct {
	Player    string        `json:"player"`
	Resources resourceLines `json:"resources"`
}

type buildRequest struct {
	Player    string        `json:"player"`
	Structure string        `json:"structure"`
	Cost      resourceLines `json:"cost"`
}

type diceRequest struct {
	Player string `json:"player"`
}

type eventRequest struct {
	Kind    string          `json:"kind"`
	Player  string          `json:"player"`
	Payload json.RawMessage `json:"payload"`
}

type transferResponse struct {
	Status      domain.TransferStatus `json:"status"`
	Operation   domain.Operation      `json:"operation,omitempty"`
	Origin      domain.AccountName    `json:"origin"`
	Destination domain.AccountName    `json:"destination"`
	TxHash      string                `json:"hash_tx,omitempty"`
	Explorer    string                `json:"explorer,omitempty"`
	Items       []domain.ItemOutcome  `json:"items"`
	Code        apperrors.Code        `json:"code,omitempty"`
	Message     string                `json:"message,omitempty"`
	Sequence    uint64                `json:"sequence,omitempty"`
}

func newTransferResponse(chainID *big.Int, outcome game.Outcome) transferResponse {
	result := outcome.Result
	return transferResponse{
		Status:      result.Status,
		Operation:   result.Operation,
		Origin:      result.Origin,
		Destination: result.Destination,
		TxHash:      result.TxHash,
		Explorer:    ledger.ExplorerTxURL(chainID, result.TxHash),
		Items:       result.Items,
		Code:        result.Reason,
		Message:     result.Message,
		Sequence:    outcome.Sequence,
	}
}

type errorResponse struct {
	Status  domain.TransferStatus `json:"status"`
	Code    apperrors.Code        `json:"code"`
	Message string                `json:"message"`
	TxHash  string                `json:"hash_tx,omitempty"`
}

type balanceResponse struct {
	Account  domain.AccountName `json:"account"`
	Address  common.Address     `json:"address"`
	Recursos domain.Balances    `json:"recursos"`
}

type balancesResponse struct {
	Accounts map[domain.AccountName]balanceResponse `json:"accounts"`
}

type diceResponse struct {
	First    int    `json:"first"`
	Second   int    `json:"second"`
	Total    int    `json:"total"`
	Robber   bool   `json:"robber"`
	Sequence uint64 `json:"sequence"`
}

type eventsResponse struct {
	Events []domain.GameEvent `json:"events"`
}

type sequenceResponse struct {
	Sequence uint64 `json:"sequence"`
}

type nonceResetResponse struct {
	Account       domain.AccountName `json:"account"`
	PreviousNonce *uint64            `json:"previous_nonce"`
}

type infoAccount struct {
	Name    domain.AccountName `json:"name"`
	Address common.Address     `json:"address"`
	Owner   bool               `json:"owner"`
}

type infoResource struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type infoResponse struct {
	Contract  common.Address `json:"contract"`
	ChainID   string         `json:"chain_id"`
	Policy    string         `json:"mint_policy"`
	Accounts  []infoAccount  `json:"accounts"`
	Resources []infoResource `json:"resources"`
}
