package models

import (
	"time"
)

// Wallet is a payment wallet registered for a profile on one network.
type Wallet struct {
	ID        int64  `gorm:"primaryKey;autoIncrement;column:id"`
	ProfileID int64  `gorm:"not null;uniqueIndex:ux_wallet_profile_network,priority:1;column:profile_id"`
	Network   int64  `gorm:"not null;uniqueIndex:ux_wallet_profile_network,priority:2;column:network"`
	Address   string `gorm:"type:varchar(42);not null;column:address"`

	// SessionKey is set when the wallet carries a delegated session the
	// bot may submit transactions with.
	SessionKey string `gorm:"type:varchar(80);column:session_key"`

	Disabled bool `gorm:"not null;default:false;column:disabled"`

	CreatedDate time.Time `gorm:"not null;column:created_date"`
}

// TableName specifies the table name for Wallet
func (Wallet) TableName() string {
	return "wallets"
}

// HasSession reports whether the wallet carries a usable delegated session.
func (w *Wallet) HasSession() bool {
	return w != nil && !w.Disabled && w.SessionKey != ""
}
