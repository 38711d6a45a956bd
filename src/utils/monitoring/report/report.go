package report

type Report struct {
	Run      *RunReport      `json:"run,omitempty"`
	Transfer *TransferReport `json:"transfer,omitempty"`
	Batch    *BatchReport    `json:"batch,omitempty"`
}
