package frame

import (
	"context"
	"errors"
	"testing"

	"github.com/sidrisov/payflow/internal/farcaster"
)

type fakeEventValidator struct {
	action *farcaster.ValidatedAction
	err    error
	calls  int
}

func (f *fakeEventValidator) ValidateFrameAction(_ context.Context, _ []byte) (*farcaster.ValidatedAction, error) {
	f.calls++
	return f.action, f.err
}

func TestValidatorValidAction(t *testing.T) {
	fake := &fakeEventValidator{
		action: &farcaster.ValidatedAction{
			Interactor:   farcaster.Identity{FID: 42, Username: "alice"},
			TappedButton: 2,
			Input:        "$10",
			State:        "abc",
			CastHash:     "0xcast",
		},
	}
	v := NewValidator(fake)

	ev, err := v.Validate(context.Background(), []byte("0xdeadbeef"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ev.ActorFID != 42 || ev.Button != 2 || ev.Input != "$10" || ev.State != "abc" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.CastHash != "0xcast" {
		t.Errorf("CastHash = %q, want 0xcast", ev.CastHash)
	}
}

func TestValidatorInvalidSignature(t *testing.T) {
	fake := &fakeEventValidator{err: farcaster.ErrInvalidAction}
	v := NewValidator(fake)

	_, err := v.Validate(context.Background(), []byte("0xdeadbeef"))
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Expected ErrInvalidEvent, got %v", err)
	}
}

func TestValidatorEmptyPayload(t *testing.T) {
	fake := &fakeEventValidator{}
	v := NewValidator(fake)

	_, err := v.Validate(context.Background(), nil)
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Expected ErrInvalidEvent, got %v", err)
	}
	if fake.calls != 0 {
		t.Error("Empty payload must not be sent upstream")
	}
}

func TestValidatorUpstreamFailure(t *testing.T) {
	fake := &fakeEventValidator{err: errors.New("hub timeout")}
	v := NewValidator(fake)

	_, err := v.Validate(context.Background(), []byte("0xdeadbeef"))
	if !errors.Is(err, ErrUnverifiable) {
		t.Fatalf("Expected ErrUnverifiable, got %v", err)
	}
}
