// Package chain provides wallet balance lookups and transfer-call encoding
// for the supported EVM networks.
package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/sidrisov/payflow/internal/registry"
)

// transferSelector is the 4-byte selector of transfer(address,uint256).
var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// TxCallDescriptor is a ready-to-submit chain call in the frame transaction
// format.
type TxCallDescriptor struct {
	ChainID string   `json:"chainId"`
	Method  string   `json:"method"`
	Params  TxParams `json:"params"`
}

// TxParams are the transaction parameters of a call descriptor.
type TxParams struct {
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data,omitempty"`
}

// TokenUnits converts a human token amount to base units for the given
// decimals.
func TokenUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

// EncodeTransferCall builds the call descriptor that moves the given token
// amount to the recipient. Native transfers carry the value directly; ERC-20
// transfers call the token contract.
func EncodeTransferCall(token registry.Token, recipient string, amount decimal.Decimal) (*TxCallDescriptor, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address: %s", recipient)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("transfer amount must be positive, got %s", amount)
	}

	to := common.HexToAddress(recipient)
	units := TokenUnits(amount, token.Decimals)

	desc := &TxCallDescriptor{
		ChainID: fmt.Sprintf("eip155:%d", token.ChainID),
		Method:  "eth_sendTransaction",
	}

	if token.Address == "" {
		desc.Params = TxParams{
			To:    to.Hex(),
			Value: hexutil.EncodeBig(units),
		}
		return desc, nil
	}

	if !common.IsHexAddress(token.Address) {
		return nil, fmt.Errorf("invalid token contract address: %s", token.Address)
	}

	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(units.Bytes(), 32)...)

	desc.Params = TxParams{
		To:    common.HexToAddress(token.Address).Hex(),
		Value: "0x0",
		Data:  hexutil.Encode(data),
	}
	return desc, nil
}
