package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType classifies how a payment was created and how it gets executed.
type PaymentType string

const (
	PaymentTypeApp            PaymentType = "APP"
	PaymentTypeIntent         PaymentType = "INTENT"
	PaymentTypeFrame          PaymentType = "FRAME"
	PaymentTypeSessionIntent  PaymentType = "SESSION_INTENT"
	PaymentTypeIntentTopReply PaymentType = "INTENT_TOP_REPLY"
)

// PaymentStatus is the lifecycle status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusInProgress PaymentStatus = "INPROGRESS"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
	PaymentStatusExpired    PaymentStatus = "EXPIRED"
)

// paymentTransitions is the forward-only status transition table.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusInProgress, PaymentStatusCompleted, PaymentStatusCancelled, PaymentStatusExpired},
	PaymentStatusInProgress: {PaymentStatusCompleted, PaymentStatusCancelled, PaymentStatusExpired},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
}

// CanTransition reports whether a status change is allowed.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return len(paymentTransitions[s]) == 0
}

// Payment represents a single payment intent or completed payment.
//
// Exactly one of USDAmount or TokenAmount is set at creation; the other is
// derived from the live price when needed. ReferenceID is immutable once
// assigned and is the public handle used in links.
type Payment struct {
	ID          int64   `gorm:"primaryKey;autoIncrement;column:id"`
	ReferenceID string  `gorm:"type:varchar(16);not null;uniqueIndex;column:reference_id"`
	Hash        *string `gorm:"type:varchar(80);uniqueIndex;column:hash"`

	Type     PaymentType   `gorm:"type:varchar(20);not null;column:type"`
	Category string        `gorm:"type:varchar(40);column:category"`
	Status   PaymentStatus `gorm:"type:varchar(12);not null;column:status"`

	SenderProfileID   *int64 `gorm:"column:sender_profile_id"`
	SenderAddress     string `gorm:"type:varchar(42);column:sender_address"`
	ReceiverProfileID *int64 `gorm:"column:receiver_profile_id"`
	ReceiverAddress   string `gorm:"type:varchar(42);column:receiver_address"`
	ReceiverFID       *int64 `gorm:"column:receiver_fid"`

	Network     int64            `gorm:"not null;column:network"`
	Token       string           `gorm:"type:varchar(40);not null;column:token"`
	USDAmount   *decimal.Decimal `gorm:"type:decimal(18,2);column:usd_amount"`
	TokenAmount *decimal.Decimal `gorm:"type:decimal(38,18);column:token_amount"`

	SourceApp  string `gorm:"type:varchar(40);column:source_app"`
	SourceRef  string `gorm:"type:varchar(256);column:source_ref"`
	SourceHash string `gorm:"type:varchar(80);column:source_hash"`
	Comment    string `gorm:"type:varchar(1024);column:comment"`

	// SessionCall holds the pre-encoded transfer call, serialized as a
	// TxCallDescriptor, for SESSION_INTENT payments.
	SessionCall string `gorm:"type:jsonb;column:session_call"`

	// Version is the optimistic-lock counter; every update must carry the
	// version it read.
	Version int64 `gorm:"not null;default:0;column:version"`

	CreatedDate   time.Time  `gorm:"not null;column:created_date"`
	CompletedDate *time.Time `gorm:"column:completed_date"`

	// Relationships
	SenderProfile   *Profile `gorm:"foreignKey:SenderProfileID;references:ID"`
	ReceiverProfile *Profile `gorm:"foreignKey:ReceiverProfileID;references:ID"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// HasReceiver reports whether at least one receiver form is set.
func (p *Payment) HasReceiver() bool {
	return p.ReceiverProfileID != nil || p.ReceiverAddress != "" || p.ReceiverFID != nil
}
