package models

import (
	"time"
)

// Profile represents a registered user resolved from a social identity.
type Profile struct {
	ID          int64  `gorm:"primaryKey;autoIncrement;column:id"`
	FID         int64  `gorm:"not null;uniqueIndex;column:fid"`
	Username    string `gorm:"type:varchar(64);not null;column:username"`
	DisplayName string `gorm:"type:varchar(128);column:display_name"`

	// Identity is the verified address the profile is anchored to.
	Identity string `gorm:"type:varchar(42);not null;column:identity"`

	CreatedDate time.Time `gorm:"not null;column:created_date"`

	// Relationships
	Wallets []*Wallet `gorm:"foreignKey:ProfileID;references:ID"`
}

// TableName specifies the table name for Profile
func (Profile) TableName() string {
	return "profiles"
}
