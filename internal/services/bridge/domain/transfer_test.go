package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
)

func TestTransferRequestValidate(t *testing.T) {
	bank := Account{Name: AccountBank, Address: bankAddr}
	playerA := Account{Name: AccountPlayerA, Address: playerAAddr}

	tests := []struct {
		name    string
		request TransferRequest
		valid   bool
	}{
		{
			name:    "single item",
			request: TransferRequest{Origin: bank, Destination: playerA, Items: []ResourceQuantity{{Kind: ResourceWood, Amount: 1}}},
			valid:   true,
		},
		{
			name: "batch",
			request: TransferRequest{Origin: playerA, Destination: bank, Items: []ResourceQuantity{
				{Kind: ResourceWood, Amount: 1},
				{Kind: ResourceOre, Amount: 3},
			}},
			valid: true,
		},
		{
			name:    "same account",
			request: TransferRequest{Origin: playerA, Destination: playerA, Items: []ResourceQuantity{{Kind: ResourceWood, Amount: 1}}},
		},
		{
			name:    "no items",
			request: TransferRequest{Origin: bank, Destination: playerA},
		},
		{
			name:    "zero amount",
			request: TransferRequest{Origin: bank, Destination: playerA, Items: []ResourceQuantity{{Kind: ResourceWood}}},
		},
		{
			name: "duplicate kind",
			request: TransferRequest{Origin: bank, Destination: playerA, Items: []ResourceQuantity{
				{Kind: ResourceWood, Amount: 1},
				{Kind: ResourceWood, Amount: 2},
			}},
		},
		{
			name:    "unknown kind",
			request: TransferRequest{Origin: bank, Destination: playerA, Items: []ResourceQuantity{{Kind: ResourceKind(7), Amount: 1}}},
		},
		{
			name:    "missing origin",
			request: TransferRequest{Destination: playerA, Items: []ResourceQuantity{{Kind: ResourceWood, Amount: 1}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.CodeOf(err))
		})
	}
}
