package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TableBatchDetail = "batch_details"
)

// One row per batch recipient.
// A detail with AttemptCount == MaxRetryCount and Sent == false is
// permanently failed and excluded from pending selection.
type BatchDetail struct {
	Idx       int64     `gorm:"primaryKey;autoIncrement"`
	RequestId uuid.UUID `gorm:"index"`

	// Encrypted at rest, see utils/crypt
	RecipientAccount []byte

	Amount decimal.Decimal `gorm:"type:numeric(38,9)"`

	Sent         bool
	AttemptCount int

	LastResultCode   string
	LastErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BatchDetail) TableName() string {
	return TableBatchDetail
}
