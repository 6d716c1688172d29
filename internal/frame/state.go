package frame

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrMalformedState is returned when an opaque state token cannot be
// decoded. Callers route the user to a wizard restart.
var ErrMalformedState = errors.New("malformed wizard state")

// OpaqueWizardState is the serialized snapshot of in-progress wizard
// selections carried between stateless requests. The token is not a
// security boundary: every field is re-validated against the registry and
// the ledger after decode.
type OpaqueWizardState struct {
	// Receiver is the identity the wizard pays: a username or a raw
	// address.
	Receiver string `json:"receiver" validate:"required,max=64"`
	// Address is the destination wallet resolved for the selected chain.
	Address  string `json:"address,omitempty" validate:"omitempty,eth_addr"`
	ChainID  int64  `json:"chainId,omitempty" validate:"gte=0"`
	Token    string `json:"token,omitempty" validate:"omitempty,max=40"`
	Category string `json:"category,omitempty" validate:"omitempty,max=40"`

	USDAmount *decimal.Decimal `json:"usdAmount,omitempty"`

	// RefID is set once a payment record exists.
	RefID string `json:"refId,omitempty" validate:"omitempty,max=16"`
}

var stateValidate = validator.New()

// EncodeState serializes the state into a transport-safe token.
func EncodeState(st OpaqueWizardState) (string, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState parses and validates an opaque token. Malformed or foreign
// tokens return ErrMalformedState, never a panic.
func DecodeState(token string) (OpaqueWizardState, error) {
	var st OpaqueWizardState
	if token == "" {
		return st, ErrMalformedState
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return st, ErrMalformedState
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, ErrMalformedState
	}
	if err := stateValidate.Struct(st); err != nil {
		return st, ErrMalformedState
	}
	return st, nil
}
