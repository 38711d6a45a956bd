package batch

import (
	"sync"

	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/crypt"
	"github.com/openledgerhq/feerelay/src/utils/ledger"
	"github.com/openledgerhq/feerelay/src/utils/model"
	"github.com/openledgerhq/feerelay/src/utils/monitoring"
	"github.com/openledgerhq/feerelay/src/utils/task"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const resultCodeOk = "ok"

// Error messages from the gateway can get long, rows keep a prefix
const maxErrorMessageLength = 512

// Processor drains accepted batch requests.
// Batches run on the worker pool, recipients within a batch go out through
// a queue with a fixed concurrency ceiling. A recipient failing only fails
// that recipient, the batch carries on.
type Processor struct {
	*task.Task

	store   Store
	cipher  crypt.Cipher
	client  ledger.Client
	monitor monitoring.Monitor

	// Requests being worked on right now, the same request notified twice
	// only gets processed once
	mtx    sync.Mutex
	active map[uuid.UUID]struct{}
}

func NewProcessor(config *config.Config) (self *Processor) {
	self = new(Processor)
	self.active = make(map[uuid.UUID]struct{})

	self.Task = task.NewTask(config, "batch-processor").
		WithWorkerPool(config.Batch.NumBatchWorkers)

	return
}

func (self *Processor) WithStore(store Store) *Processor {
	self.store = store
	return self
}

func (self *Processor) WithCipher(cipher crypt.Cipher) *Processor {
	self.cipher = cipher
	return self
}

func (self *Processor) WithLedgerClient(client ledger.Client) *Processor {
	self.client = client
	return self
}

func (self *Processor) WithMonitor(monitor monitoring.Monitor) *Processor {
	self.monitor = monitor
	return self
}

// WithInput consumes request ids from the channel for as long as the
// processor runs. May be chained for multiple sources.
func (self *Processor) WithInput(input <-chan uuid.UUID) *Processor {
	self.Task = self.Task.WithSubtaskFunc(func() error {
		for {
			select {
			case <-self.StopChannel:
				return nil
			case requestId, ok := <-input:
				if !ok {
					return nil
				}
				self.Process(requestId)
			}
		}
	})
	return self
}

// Process hands the request over to the worker pool.
// A request already being worked on is skipped.
func (self *Processor) Process(requestId uuid.UUID) {
	if self.IsStopping.Load() {
		return
	}
	if !self.claim(requestId) {
		return
	}
	self.SubmitToWorker(func() {
		defer self.release(requestId)
		self.processBatch(requestId)
	})
}

func (self *Processor) claim(requestId uuid.UUID) bool {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	if _, ok := self.active[requestId]; ok {
		return false
	}
	self.active[requestId] = struct{}{}
	return true
}

func (self *Processor) release(requestId uuid.UUID) {
	self.mtx.Lock()
	defer self.mtx.Unlock()
	delete(self.active, requestId)
}

func (self *Processor) processBatch(requestId uuid.UUID) {
	log := self.Log.WithField("request_id", requestId)

	won, err := self.store.MarkProcessing(self.Ctx, requestId)
	if err != nil {
		// Claim failed, the request stays as it was and the poller
		// will come back to it
		self.monitor.GetReport().Batch.Errors.DbError.Inc()
		return
	}
	if !won {
		// Already in a terminal state
		return
	}

	log.Info("Processing batch request")

	var pages int
	for {
		if self.IsStopping.Load() {
			// Interrupted, stays PROCESSING and gets picked up on the
			// next start
			log.Info("Batch processing interrupted")
			return
		}

		details, err := self.store.FetchPending(self.Ctx, requestId, self.Config.Batch.PageSize)
		if err != nil {
			self.abort(requestId, err)
			return
		}
		if len(details) == 0 {
			break
		}
		pages++

		queue := task.NewQueue(self.Config.Batch.NumSendWorkers)
		results := make([]<-chan error, 0, len(details))
		for _, detail := range details {
			detail := detail
			results = append(results, queue.Submit(func() error {
				return self.handleDetail(detail)
			}))
		}
		queue.WaitIdle()

		// Send failures are recorded per detail, only a failure to record
		// them aborts the whole batch
		for _, result := range results {
			err = <-result
			if err != nil {
				self.abort(requestId, err)
				return
			}
		}

		err = self.store.RefreshStats(self.Ctx, requestId)
		if err != nil {
			self.abort(requestId, err)
			return
		}
	}

	if pages == 0 {
		// Nothing was pending anymore, e.g. resuming a batch that got
		// interrupted right before finishing. Counters may still be stale.
		err = self.store.RefreshStats(self.Ctx, requestId)
		if err != nil {
			self.abort(requestId, err)
			return
		}
	}

	won, err = self.store.MarkDone(self.Ctx, requestId)
	if err != nil {
		self.monitor.GetReport().Batch.Errors.DbError.Inc()
		return
	}
	if won {
		self.monitor.GetReport().Batch.State.RequestsDone.Inc()
		log.Info("Finished batch request")
	}
}

// Database failure mid-batch. While shutting down the request is left
// PROCESSING for the next start, otherwise it's moved to ERROR.
// Counts the db error for all of its callers, they don't.
func (self *Processor) abort(requestId uuid.UUID, cause error) {
	self.monitor.GetReport().Batch.Errors.DbError.Inc()

	if self.IsStopping.Load() {
		self.Log.WithField("request_id", requestId).Info("Batch processing interrupted")
		return
	}

	self.Log.WithError(cause).WithField("request_id", requestId).Error("Aborting batch request")
	self.monitor.GetReport().Batch.Errors.RequestsError.Inc()

	err := self.store.MarkError(self.Ctx, requestId)
	if err != nil {
		self.Log.WithError(err).WithField("request_id", requestId).Error("Failed to mark batch request as errored")
	}
}

// handleDetail sends one recipient's transfer, retrying within the row's
// remaining attempt allowance, and records the outcome. The returned error
// only reports a failure to record, never a failure to send.
func (self *Processor) handleDetail(detail *model.BatchDetail) error {
	log := self.Log.WithField("idx", detail.Idx)

	account, err := self.cipher.Open(detail.RecipientAccount)
	if err != nil {
		// Can't ever succeed, burn an attempt so the row converges to
		// permanently failed instead of being refetched forever
		log.WithError(err).Error("Failed to decrypt recipient account")
		detail.AttemptCount++
		return self.recordFailure(detail, apperr.System(err, "failed to decrypt recipient account"))
	}

	remaining := self.Config.Batch.MaxRetryCount - detail.AttemptCount
	if remaining <= 0 {
		return nil
	}

	retry := task.NewRetry().
		WithContext(self.Ctx).
		WithMaxAttempts(uint64(remaining)).
		WithDelay(self.Config.Batch.RetryDelay).
		WithIsRetryable(func(err error) bool {
			// Only gateway-side submission failures are worth another try
			return apperr.IsKind(err, apperr.KindLedgerSubmission)
		}).
		WithOnError(func(err error) {
			self.monitor.GetReport().Batch.State.DetailsRetried.Inc()
			log.WithError(err).Warn("Retrying recipient transfer")
		})
	if self.Config.Batch.RetryBackoffExponential {
		retry = retry.WithExponentialGrowth(self.Config.Batch.RetryBackoffMaxInterval)
	}

	var attempts int
	err = retry.Run(func() error {
		attempts++
		return self.sendTransfer(string(account), detail.Amount)
	})
	detail.AttemptCount += attempts

	if err != nil {
		return self.recordFailure(detail, err)
	}

	detail.Sent = true
	detail.LastResultCode = resultCodeOk
	detail.LastErrorMessage = ""

	err = self.store.RecordResult(self.Ctx, detail)
	if err != nil {
		// Counted once in abort
		return err
	}

	self.monitor.GetReport().Batch.State.DetailsSent.Inc()
	return nil
}

func (self *Processor) recordFailure(detail *model.BatchDetail, cause error) error {
	detail.Sent = false
	detail.LastResultCode = apperr.GetKind(cause).String()
	detail.LastErrorMessage = truncate(cause.Error(), maxErrorMessageLength)

	self.monitor.GetReport().Batch.Errors.SendError.Inc()
	if detail.AttemptCount >= self.Config.Batch.MaxRetryCount {
		self.monitor.GetReport().Batch.State.DetailsFailed.Inc()
	}

	err := self.store.RecordResult(self.Ctx, detail)
	if err != nil {
		// Counted once in abort
		return err
	}
	return nil
}

// One unilateral transfer from the funding account to a recipient.
// The fee payer is the only required signer here, the gateway applies its
// authorization when building the artifact.
func (self *Processor) sendTransfer(to string, amount decimal.Decimal) (err error) {
	anchor, err := self.client.FetchAnchor(self.Ctx)
	if err != nil {
		return
	}

	artifact, err := self.client.BuildTransfer(self.Ctx, self.Config.Ledger.FeePayerAccount, to, amount, anchor)
	if err != nil {
		return
	}

	ledgerRef, err := self.client.Submit(self.Ctx, artifact)
	if err != nil {
		return
	}

	return self.client.Confirm(self.Ctx, ledgerRef, anchor.ExpiryHeight)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
