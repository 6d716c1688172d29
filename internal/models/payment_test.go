package models

import (
	"testing"
)

func TestPaymentStatusCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{"pending to completed", PaymentStatusPending, PaymentStatusCompleted, true},
		{"pending to inprogress", PaymentStatusPending, PaymentStatusInProgress, true},
		{"pending to expired", PaymentStatusPending, PaymentStatusExpired, true},
		{"inprogress to completed", PaymentStatusInProgress, PaymentStatusCompleted, true},
		{"completed to refunded", PaymentStatusCompleted, PaymentStatusRefunded, true},
		{"completed to pending", PaymentStatusCompleted, PaymentStatusPending, false},
		{"completed to completed", PaymentStatusCompleted, PaymentStatusCompleted, false},
		{"expired to pending", PaymentStatusExpired, PaymentStatusPending, false},
		{"refunded to completed", PaymentStatusRefunded, PaymentStatusCompleted, false},
		{"cancelled to completed", PaymentStatusCancelled, PaymentStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.from.CanTransition(tt.to)
			if result != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, result, tt.allowed)
			}
		})
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	tests := []struct {
		status   PaymentStatus
		terminal bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusInProgress, false},
		{PaymentStatusCompleted, false}, // refund still possible
		{PaymentStatusRefunded, true},
		{PaymentStatusCancelled, true},
		{PaymentStatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestPaymentHasReceiver(t *testing.T) {
	fid := int64(42)
	profileID := int64(7)

	tests := []struct {
		name     string
		payment  Payment
		expected bool
	}{
		{"no receiver", Payment{}, false},
		{"address only", Payment{ReceiverAddress: "0x1234"}, true},
		{"fid only", Payment{ReceiverFID: &fid}, true},
		{"profile only", Payment{ReceiverProfileID: &profileID}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payment.HasReceiver(); got != tt.expected {
				t.Errorf("HasReceiver() = %v, want %v", got, tt.expected)
			}
		})
	}
}
