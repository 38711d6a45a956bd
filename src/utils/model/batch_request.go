package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	TableBatchRequest = "batch_requests"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusDone       BatchStatus = "DONE"
	BatchStatusError      BatchStatus = "ERROR"
)

// Master row of a one-to-many send.
// TotalCount is fixed at creation, counters are re-derived from detail rows.
// Status moves PENDING -> PROCESSING -> DONE or ERROR and never regresses.
type BatchRequest struct {
	RequestId uuid.UUID `gorm:"primaryKey"`

	// Caller-supplied classification tags, opaque to the service
	Category1 string
	Category2 string

	TotalCount     int
	CompletedCount int
	FailedCount    int

	Status BatchStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BatchRequest) TableName() string {
	return TableBatchRequest
}
