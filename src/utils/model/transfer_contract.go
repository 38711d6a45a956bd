package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TableTransferContract = "transfer_contracts"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusCompleted TransferStatus = "COMPLETED"
	TransferStatusFailed    TransferStatus = "FAILED"
)

// One row per client-facing transfer.
// Status moves PENDING -> COMPLETED or PENDING -> FAILED, at most once.
// UnsignedArtifact, AnchorId and ExpiryHeight are immutable once written.
type TransferContract struct {
	ContractId  uuid.UUID `gorm:"primaryKey"`
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal `gorm:"type:numeric(38,9)"`
	Status      TransferStatus

	// Serialized transfer with the fee payer's authorization applied
	UnsignedArtifact []byte

	// Ledger checkpoint bounding how long the artifact stays submittable
	AnchorId     string
	ExpiryHeight int64

	// Set only on success
	LedgerRef string

	// Set only on failure
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TransferContract) TableName() string {
	return TableTransferContract
}
