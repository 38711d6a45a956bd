package monitor_relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	monitor *Monitor

	// Run
	UpForSeconds *prometheus.Desc

	// Transfer
	ContractsCreated     *prometheus.Desc
	ContractsCompleted   *prometheus.Desc
	ContractsFailed      *prometheus.Desc
	FinalizeConflicts    *prometheus.Desc
	AuthorizationMissing *prometheus.Desc
	LedgerSubmitError    *prometheus.Desc
	TransferDbError      *prometheus.Desc

	// Batch
	RequestsCreated *prometheus.Desc
	RequestsDone    *prometheus.Desc
	RequestsError   *prometheus.Desc
	DetailsSent     *prometheus.Desc
	DetailsFailed   *prometheus.Desc
	DetailsRetried  *prometheus.Desc
	SendError       *prometheus.Desc
	BatchDbError    *prometheus.Desc
}

func NewCollector() *Collector {
	return &Collector{
		UpForSeconds:         prometheus.NewDesc("up_for_seconds", "", nil, nil),
		ContractsCreated:     prometheus.NewDesc("contracts_created", "", nil, nil),
		ContractsCompleted:   prometheus.NewDesc("contracts_completed", "", nil, nil),
		ContractsFailed:      prometheus.NewDesc("contracts_failed", "", nil, nil),
		FinalizeConflicts:    prometheus.NewDesc("finalize_conflicts", "", nil, nil),
		AuthorizationMissing: prometheus.NewDesc("authorization_missing", "", nil, nil),
		LedgerSubmitError:    prometheus.NewDesc("ledger_submit_error", "", nil, nil),
		TransferDbError:      prometheus.NewDesc("transfer_db_error", "", nil, nil),
		RequestsCreated:      prometheus.NewDesc("batch_requests_created", "", nil, nil),
		RequestsDone:         prometheus.NewDesc("batch_requests_done", "", nil, nil),
		RequestsError:        prometheus.NewDesc("batch_requests_error", "", nil, nil),
		DetailsSent:          prometheus.NewDesc("batch_details_sent", "", nil, nil),
		DetailsFailed:        prometheus.NewDesc("batch_details_failed", "", nil, nil),
		DetailsRetried:       prometheus.NewDesc("batch_details_retried", "", nil, nil),
		SendError:            prometheus.NewDesc("batch_send_error", "", nil, nil),
		BatchDbError:         prometheus.NewDesc("batch_db_error", "", nil, nil),
	}
}

func (self *Collector) WithMonitor(m *Monitor) *Collector {
	self.monitor = m
	return self
}

func (self *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Run
	ch <- self.UpForSeconds

	// Transfer
	ch <- self.ContractsCreated
	ch <- self.ContractsCompleted
	ch <- self.ContractsFailed
	ch <- self.FinalizeConflicts
	ch <- self.AuthorizationMissing
	ch <- self.LedgerSubmitError
	ch <- self.TransferDbError

	// Batch
	ch <- self.RequestsCreated
	ch <- self.RequestsDone
	ch <- self.RequestsError
	ch <- self.DetailsSent
	ch <- self.DetailsFailed
	ch <- self.DetailsRetried
	ch <- self.SendError
	ch <- self.BatchDbError
}

// Collect implements required collect function for all prometheus collectors
func (self *Collector) Collect(ch chan<- prometheus.Metric) {
	// Run
	ch <- prometheus.MustNewConstMetric(self.UpForSeconds, prometheus.GaugeValue, float64(self.monitor.Report.Run.State.UpForSeconds.Load()))

	// Transfer
	ch <- prometheus.MustNewConstMetric(self.ContractsCreated, prometheus.CounterValue, float64(self.monitor.Report.Transfer.State.ContractsCreated.Load()))
	ch <- prometheus.MustNewConstMetric(self.ContractsCompleted, prometheus.CounterValue, float64(self.monitor.Report.Transfer.State.ContractsCompleted.Load()))
	ch <- prometheus.MustNewConstMetric(self.ContractsFailed, prometheus.CounterValue, float64(self.monitor.Report.Transfer.State.ContractsFailed.Load()))
	ch <- prometheus.MustNewConstMetric(self.FinalizeConflicts, prometheus.CounterValue, float64(self.monitor.Report.Transfer.Errors.FinalizeConflicts.Load()))
	ch <- prometheus.MustNewConstMetric(self.AuthorizationMissing, prometheus.CounterValue, float64(self.monitor.Report.Transfer.Errors.AuthorizationMissing.Load()))
	ch <- prometheus.MustNewConstMetric(self.LedgerSubmitError, prometheus.CounterValue, float64(self.monitor.Report.Transfer.Errors.LedgerSubmitError.Load()))
	ch <- prometheus.MustNewConstMetric(self.TransferDbError, prometheus.CounterValue, float64(self.monitor.Report.Transfer.Errors.DbError.Load()))

	// Batch
	ch <- prometheus.MustNewConstMetric(self.RequestsCreated, prometheus.CounterValue, float64(self.monitor.Report.Batch.State.RequestsCreated.Load()))
	ch <- prometheus.MustNewConstMetric(self.RequestsDone, prometheus.CounterValue, float64(self.monitor.Report.Batch.State.RequestsDone.Load()))
	ch <- prometheus.MustNewConstMetric(self.RequestsError, prometheus.CounterValue, float64(self.monitor.Report.Batch.Errors.RequestsError.Load()))
	ch <- prometheus.MustNewConstMetric(self.DetailsSent, prometheus.CounterValue, float64(self.monitor.Report.Batch.State.DetailsSent.Load()))
	ch <- prometheus.MustNewConstMetric(self.DetailsFailed, prometheus.CounterValue, float64(self.monitor.Report.Batch.State.DetailsFailed.Load()))
	ch <- prometheus.MustNewConstMetric(self.DetailsRetried, prometheus.CounterValue, float64(self.monitor.Report.Batch.State.DetailsRetried.Load()))
	ch <- prometheus.MustNewConstMetric(self.SendError, prometheus.CounterValue, float64(self.monitor.Report.Batch.Errors.SendError.Load()))
	ch <- prometheus.MustNewConstMetric(self.BatchDbError, prometheus.CounterValue, float64(self.monitor.Report.Batch.Errors.DbError.Load()))
}
