package report

import (
	"go.uber.org/atomic"
)

type BatchState struct {
	RequestsCreated atomic.Uint64 `json:"requests_created"`
	RequestsDone    atomic.Uint64 `json:"requests_done"`

	// Counting detail rows by their final outcome
	DetailsSent    atomic.Uint64 `json:"details_sent"`
	DetailsFailed  atomic.Uint64 `json:"details_failed"`
	DetailsRetried atomic.Uint64 `json:"details_retried"`
}

type BatchErrors struct {
	RequestsError atomic.Uint64 `json:"requests_error"`
	SendError     atomic.Uint64 `json:"send_error"`
	DbError       atomic.Uint64 `json:"db_error"`
}

type BatchReport struct {
	State  BatchState  `json:"state"`
	Errors BatchErrors `json:"errors"`
}
