package frame

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sidrisov/payflow/internal/farcaster"
	"github.com/sidrisov/payflow/pkg/logging"
)

// ErrInvalidEvent marks an event that failed signature validation. Callers
// must respond with a safe default view and never partially process.
var ErrInvalidEvent = errors.New("event failed signature validation")

// ErrUnverifiable marks an event whose authenticity could not be determined
// because the validation service was unreachable.
var ErrUnverifiable = errors.New("event could not be verified")

// EventValidator is the external validation service dependency.
type EventValidator interface {
	ValidateFrameAction(ctx context.Context, raw []byte) (*farcaster.ValidatedAction, error)
}

// Validator turns raw signed events into trusted InteractionEvents. This is
// the mandatory gate before any state mutation: no component below it may
// trust actor identity, tapped index, or input text.
type Validator struct {
	fc     EventValidator
	logger *zap.Logger
}

// NewValidator creates a validator backed by the given validation service.
func NewValidator(fc EventValidator) *Validator {
	return &Validator{
		fc:     fc,
		logger: logging.WithComponent("frame-validator"),
	}
}

// Validate checks the raw event's authenticity and normalizes it.
func (v *Validator) Validate(ctx context.Context, raw []byte) (*InteractionEvent, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidEvent
	}

	action, err := v.fc.ValidateFrameAction(ctx, raw)
	if err != nil {
		if errors.Is(err, farcaster.ErrInvalidAction) {
			v.logger.Warn("Rejected invalid frame event")
			return nil, ErrInvalidEvent
		}
		return nil, fmt.Errorf("%w: %v", ErrUnverifiable, err)
	}

	return &InteractionEvent{
		ActorFID:       action.Interactor.FID,
		ActorUsername:  action.Interactor.Username,
		ActorAddresses: action.InteractorAddresses,
		Button:         action.TappedButton,
		Input:          action.Input,
		State:          action.State,
		CastHash:       action.CastHash,
		CastAuthorFID:  action.CastAuthorFID,
		TxHash:         action.TxHash,
		Client:         action.Client,
	}, nil
}
