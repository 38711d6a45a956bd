package report

import (
	"go.uber.org/atomic"
)

type TransferState struct {
	// Counting contracts by the terminal state they reached
	ContractsCreated   atomic.Uint64 `json:"contracts_created"`
	ContractsCompleted atomic.Uint64 `json:"contracts_completed"`
	ContractsFailed    atomic.Uint64 `json:"contracts_failed"`
}

type TransferErrors struct {
	FinalizeConflicts    atomic.Uint64 `json:"finalize_conflicts"`
	AuthorizationMissing atomic.Uint64 `json:"authorization_missing"`
	LedgerSubmitError    atomic.Uint64 `json:"ledger_submit_error"`
	DbError              atomic.Uint64 `json:"db_error"`
}

type TransferReport struct {
	State  TransferState  `json:"state"`
	Errors TransferErrors `json:"errors"`
}
