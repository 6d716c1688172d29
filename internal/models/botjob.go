package models

import (
	"time"
)

// BotJobStatus is the lifecycle status of a bot job.
type BotJobStatus string

const (
	BotJobStatusCreated   BotJobStatus = "CREATED"
	BotJobStatusProcessed BotJobStatus = "PROCESSED"
	BotJobStatusRejected  BotJobStatus = "REJECTED"
	BotJobStatusError     BotJobStatus = "ERROR"
)

// BotJob represents one inbound bot mention to process.
//
// CastHash is the dedupe key: re-delivery of the same cast never creates a
// second job. A job leaves CREATED exactly once.
type BotJob struct {
	ID        int64        `gorm:"primaryKey;autoIncrement;column:id"`
	CastHash  string       `gorm:"type:varchar(80);not null;uniqueIndex;column:cast_hash"`
	CasterFID int64        `gorm:"not null;column:caster_fid"`
	Status    BotJobStatus `gorm:"type:varchar(10);not null;column:status"`

	// CastJSON is the snapshot of the triggering cast (author, text,
	// mentions, parent reference) taken at ingestion time.
	CastJSON string `gorm:"type:jsonb;not null;column:cast_json"`

	// ClaimedDate marks the job as taken by a worker; the sweep skips
	// freshly claimed jobs so the fast path and the sweep never both
	// process the same job.
	ClaimedDate *time.Time `gorm:"column:claimed_date"`

	CreatedDate time.Time `gorm:"not null;column:created_date"`
}

// TableName specifies the table name for BotJob
func (BotJob) TableName() string {
	return "bot_jobs"
}
