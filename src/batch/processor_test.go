package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/crypt"
	"github.com/openledgerhq/feerelay/src/utils/ledger"
	"github.com/openledgerhq/feerelay/src/utils/model"
	monitor_relay "github.com/openledgerhq/feerelay/src/utils/monitoring/relay"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

const testFeePayer = "FEEPAYER"

// In-memory store with the same conditional-update and pending-selection
// semantics as the postgres one
type fakeStore struct {
	mtx      sync.Mutex
	maxRetry int

	requests map[uuid.UUID]*model.BatchRequest
	details  map[int64]*model.BatchDetail
	nextIdx  int64

	// Injectable failures
	recordResultErr error
	refreshStatsErr error
}

func newFakeStore(maxRetry int) *fakeStore {
	return &fakeStore{
		maxRetry: maxRetry,
		requests: make(map[uuid.UUID]*model.BatchRequest),
		details:  make(map[int64]*model.BatchDetail),
	}
}

func (self *fakeStore) CreateBatch(ctx context.Context, request *model.BatchRequest, details []*model.BatchDetail) error {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	stored := *request
	self.requests[request.RequestId] = &stored
	for _, detail := range details {
		self.nextIdx++
		row := *detail
		row.Idx = self.nextIdx
		self.details[row.Idx] = &row
	}
	return nil
}

func (self *fakeStore) GetRequest(ctx context.Context, requestId uuid.UUID) (*model.BatchRequest, error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	request, ok := self.requests[requestId]
	if !ok {
		return nil, apperr.NotFound("batch request", requestId.String())
	}
	out := *request
	return &out, nil
}

func (self *fakeStore) MarkProcessing(ctx context.Context, requestId uuid.UUID) (bool, error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	request, ok := self.requests[requestId]
	if !ok || (request.Status != model.BatchStatusPending && request.Status != model.BatchStatusProcessing) {
		return false, nil
	}
	request.Status = model.BatchStatusProcessing
	return true, nil
}

func (self *fakeStore) MarkDone(ctx context.Context, requestId uuid.UUID) (bool, error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	request, ok := self.requests[requestId]
	if !ok || request.Status != model.BatchStatusProcessing {
		return false, nil
	}
	request.Status = model.BatchStatusDone
	return true, nil
}

func (self *fakeStore) MarkError(ctx context.Context, requestId uuid.UUID) error {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	request, ok := self.requests[requestId]
	if ok && (request.Status == model.BatchStatusPending || request.Status == model.BatchStatusProcessing) {
		request.Status = model.BatchStatusError
	}
	return nil
}

func (self *fakeStore) FetchPending(ctx context.Context, requestId uuid.UUID, limit int) (out []*model.BatchDetail, err error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	for _, detail := range self.details {
		if detail.RequestId == requestId && !detail.Sent && detail.AttemptCount < self.maxRetry {
			row := *detail
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	if len(out) > limit {
		out = out[:limit]
	}
	return
}

func (self *fakeStore) RecordResult(ctx context.Context, detail *model.BatchDetail) error {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	if self.recordResultErr != nil {
		return self.recordResultErr
	}

	stored, ok := self.details[detail.Idx]
	if !ok || stored.Sent {
		return nil
	}
	stored.Sent = detail.Sent
	stored.AttemptCount = detail.AttemptCount
	stored.LastResultCode = detail.LastResultCode
	stored.LastErrorMessage = detail.LastErrorMessage
	return nil
}

func (self *fakeStore) RefreshStats(ctx context.Context, requestId uuid.UUID) error {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	if self.refreshStatsErr != nil {
		return self.refreshStatsErr
	}

	request, ok := self.requests[requestId]
	if !ok {
		return nil
	}
	request.CompletedCount = 0
	request.FailedCount = 0
	for _, detail := range self.details {
		if detail.RequestId != requestId {
			continue
		}
		if detail.Sent {
			request.CompletedCount++
		} else if detail.AttemptCount >= self.maxRetry {
			request.FailedCount++
		}
	}
	return nil
}

func (self *fakeStore) ListUnfinished(ctx context.Context, limit int) (out []uuid.UUID, err error) {
	self.mtx.Lock()
	defer self.mtx.Unlock()

	for _, request := range self.requests {
		if request.Status == model.BatchStatusPending || request.Status == model.BatchStatusProcessing {
			out = append(out, request.RequestId)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return
}

// Ledger stub with per-recipient behavior
type fakeLedger struct {
	mtx sync.Mutex

	// Submits fail for these recipients, forever or for the first N calls
	failing   map[string]error
	failUntil map[string]int

	submitsByAccount map[string]int
	maxParallel      int
	parallel         int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		failing:          make(map[string]error),
		failUntil:        make(map[string]int),
		submitsByAccount: make(map[string]int),
	}
}

func (self *fakeLedger) FetchAnchor(ctx context.Context) (ledger.Anchor, error) {
	return ledger.Anchor{Id: "anchor-1", ExpiryHeight: 100}, nil
}

func (self *fakeLedger) BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal, anchor ledger.Anchor) (*ledger.Artifact, error) {
	return &ledger.Artifact{
		From:         from,
		To:           to,
		Amount:       amount,
		AnchorId:     anchor.Id,
		ExpiryHeight: anchor.ExpiryHeight,
		Authorizations: []ledger.Authorization{
			{Account: from, Signature: []byte("fee-payer-sig")},
		},
	}, nil
}

func (self *fakeLedger) Submit(ctx context.Context, artifact *ledger.Artifact) (string, error) {
	self.mtx.Lock()
	self.parallel++
	if self.parallel > self.maxParallel {
		self.maxParallel = self.parallel
	}
	self.submitsByAccount[artifact.To]++
	calls := self.submitsByAccount[artifact.To]
	self.mtx.Unlock()

	// Let parallel submits overlap so the ceiling is observable
	time.Sleep(time.Millisecond)

	self.mtx.Lock()
	self.parallel--
	err, isFailing := self.failing[artifact.To]
	if until, ok := self.failUntil[artifact.To]; ok && calls > until {
		isFailing = false
	}
	self.mtx.Unlock()

	if isFailing {
		return "", err
	}
	return "ref-" + artifact.To, nil
}

func (self *fakeLedger) Confirm(ctx context.Context, ledgerRef string, expiryHeight int64) error {
	return nil
}

func TestProcessorTestSuite(t *testing.T) {
	suite.Run(t, new(ProcessorTestSuite))
}

type ProcessorTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	config    *config.Config
	store     *fakeStore
	client    *fakeLedger
	monitor   *monitor_relay.Monitor
	service   *Service
	processor *Processor
}

func (s *ProcessorTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.config = config.Default()
	s.config.Ledger.FeePayerAccount = testFeePayer
	s.config.Batch.RetryDelay = time.Millisecond
	s.config.Batch.NumSendWorkers = 2
	s.config.Batch.PageSize = 3

	s.monitor = monitor_relay.NewMonitor()
	s.store = newFakeStore(s.config.Batch.MaxRetryCount)
	s.client = newFakeLedger()
	s.service = NewService(s.config).
		WithStore(s.store).
		WithCipher(crypt.NoopCipher{}).
		WithMonitor(s.monitor)
	s.processor = NewProcessor(s.config).
		WithStore(s.store).
		WithCipher(crypt.NoopCipher{}).
		WithLedgerClient(s.client).
		WithMonitor(s.monitor)
}

func (s *ProcessorTestSuite) TearDownTest() {
	s.cancel()
}

func (s *ProcessorTestSuite) createBatch(accounts ...string) uuid.UUID {
	recipients := make([]Recipient, 0, len(accounts))
	for _, account := range accounts {
		recipients = append(recipients, Recipient{Account: account, Amount: decimal.NewFromInt(1)})
	}
	request, err := s.service.CreateBatch(s.ctx, "payout", "2026-09", recipients)
	s.Require().NoError(err)
	return request.RequestId
}

func (s *ProcessorTestSuite) TestAllRecipientsSent() {
	requestId := s.createBatch("account-a", "account-b", "account-c", "account-d")

	s.processor.processBatch(requestId)

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusDone, request.Status)
	s.Equal(4, request.TotalCount)
	s.Equal(4, request.CompletedCount)
	s.Equal(0, request.FailedCount)

	for _, account := range []string{"account-a", "account-b", "account-c", "account-d"} {
		s.Equal(1, s.client.submitsByAccount[account])
	}
	s.LessOrEqual(s.client.maxParallel, s.config.Batch.NumSendWorkers)
}

func (s *ProcessorTestSuite) TestFailedRecipientDoesNotFailSiblings() {
	s.client.failing["account-bad"] = apperr.LedgerSubmission(nil, "insufficient funds")

	requestId := s.createBatch("account-a", "account-bad", "account-b", "account-c")

	s.processor.processBatch(requestId)

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusDone, request.Status)
	s.Equal(3, request.CompletedCount)
	s.Equal(1, request.FailedCount)

	// The failing recipient got its full attempt allowance and not one more
	s.Equal(s.config.Batch.MaxRetryCount, s.client.submitsByAccount["account-bad"])

	var failed *model.BatchDetail
	for _, detail := range s.store.details {
		if !detail.Sent {
			failed = detail
			continue
		}
		// Successful siblings went out on the first try
		s.Equal(1, detail.AttemptCount)
		s.Equal(resultCodeOk, detail.LastResultCode)
	}
	s.Require().NotNil(failed)
	s.Equal(s.config.Batch.MaxRetryCount, failed.AttemptCount)
	s.Equal(apperr.KindLedgerSubmission.String(), failed.LastResultCode)
	s.NotEmpty(failed.LastErrorMessage)
}

func (s *ProcessorTestSuite) TestRetrySucceedsMidway() {
	s.client.failing["account-flaky"] = apperr.LedgerSubmission(nil, "gateway hiccup")
	s.client.failUntil["account-flaky"] = 2

	requestId := s.createBatch("account-a", "account-flaky")

	s.processor.processBatch(requestId)

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusDone, request.Status)
	s.Equal(2, request.CompletedCount)
	s.Equal(0, request.FailedCount)
	s.Equal(3, s.client.submitsByAccount["account-flaky"])
}

func (s *ProcessorTestSuite) TestResumesInterruptedBatch() {
	requestId := s.createBatch("account-a", "account-b", "account-c")

	// Looks like a batch interrupted mid-flight on the last run
	s.store.requests[requestId].Status = model.BatchStatusProcessing
	for _, detail := range s.store.details {
		if detail.RequestId == requestId {
			detail.Sent = true
			detail.AttemptCount = 1
			detail.LastResultCode = resultCodeOk
			break
		}
	}

	s.processor.processBatch(requestId)

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusDone, request.Status)
	s.Equal(3, request.CompletedCount)

	// The already delivered recipient wasn't sent to again
	total := 0
	for _, calls := range s.client.submitsByAccount {
		total += calls
	}
	s.Equal(2, total)
}

func (s *ProcessorTestSuite) TestStatsFailureMovesBatchToError() {
	requestId := s.createBatch("account-a", "account-b", "account-c", "account-d", "account-e")

	s.store.refreshStatsErr = errors.New("connection reset by peer")

	s.processor.processBatch(requestId)

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusError, request.Status)

	// Processing stopped after the first page, the second was never fetched
	total := 0
	for _, calls := range s.client.submitsByAccount {
		total += calls
	}
	s.Equal(s.config.Batch.PageSize, total)

	// Results recorded before the failure stay inspectable, the rest is untouched
	var sent, untouched int
	for _, detail := range s.store.details {
		if detail.Sent {
			sent++
			s.Equal(resultCodeOk, detail.LastResultCode)
		} else {
			untouched++
			s.Equal(0, detail.AttemptCount)
		}
	}
	s.Equal(s.config.Batch.PageSize, sent)
	s.Equal(2, untouched)

	s.EqualValues(1, s.monitor.GetReport().Batch.Errors.RequestsError.Load())
	s.EqualValues(0, s.monitor.GetReport().Batch.State.RequestsDone.Load())
}

func (s *ProcessorTestSuite) TestRecordFailureMovesBatchToError() {
	requestId := s.createBatch("account-a", "account-b")

	s.store.recordResultErr = errors.New("connection reset by peer")

	s.processor.processBatch(requestId)

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusError, request.Status)

	// The transfers went out but their outcome couldn't be persisted
	s.Equal(1, s.client.submitsByAccount["account-a"])
	s.Equal(1, s.client.submitsByAccount["account-b"])
	s.EqualValues(0, s.monitor.GetReport().Batch.State.DetailsSent.Load())

	// The db failure is counted once, not once per layer it passed through
	s.EqualValues(1, s.monitor.GetReport().Batch.Errors.DbError.Load())
	s.EqualValues(1, s.monitor.GetReport().Batch.Errors.RequestsError.Load())
}

func (s *ProcessorTestSuite) TestTerminalRequestIsNotReprocessed() {
	requestId := s.createBatch("account-a")
	s.store.requests[requestId].Status = model.BatchStatusDone

	s.processor.processBatch(requestId)

	s.Empty(s.client.submitsByAccount)
	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusDone, request.Status)
}

func (s *ProcessorTestSuite) TestDuplicateNotificationClaimedOnce() {
	requestId := s.createBatch("account-a")

	s.True(s.processor.claim(requestId))
	s.False(s.processor.claim(requestId))
	s.processor.release(requestId)
	s.True(s.processor.claim(requestId))
}

func (s *ProcessorTestSuite) TestCreateBatchValidation() {
	_, err := s.service.CreateBatch(s.ctx, "payout", "", nil)
	s.Equal(apperr.KindValidation, apperr.GetKind(err))

	_, err = s.service.CreateBatch(s.ctx, "payout", "", []Recipient{
		{Account: "account-a", Amount: decimal.NewFromInt(1)},
		{Account: "x", Amount: decimal.NewFromInt(1)},
	})
	s.Equal(apperr.KindValidation, apperr.GetKind(err))

	_, err = s.service.CreateBatch(s.ctx, "payout", "", []Recipient{
		{Account: "account-a", Amount: decimal.Zero},
	})
	s.Equal(apperr.KindValidation, apperr.GetKind(err))

	// Rejected whole, nothing was persisted
	s.Empty(s.store.requests)
	s.Empty(s.store.details)
}

func (s *ProcessorTestSuite) TestRecipientAccountsEncryptedAtRest() {
	cipher, err := crypt.NewAesGcmCipher("6368616e676520746869732070617373776f726420746f206120736563726574")
	s.Require().NoError(err)

	s.service = s.service.WithCipher(cipher)
	s.processor = s.processor.WithCipher(cipher)

	requestId := s.createBatch("account-a", "account-b")

	for _, detail := range s.store.details {
		s.NotContains(string(detail.RecipientAccount), "account-")
	}

	// Decrypted back for sending
	s.processor.processBatch(requestId)
	s.Equal(1, s.client.submitsByAccount["account-a"])
	s.Equal(1, s.client.submitsByAccount["account-b"])

	request, err := s.service.GetBatchStatus(s.ctx, requestId)
	s.Require().NoError(err)
	s.Equal(model.BatchStatusDone, request.Status)
	s.Equal(2, request.CompletedCount)
}
