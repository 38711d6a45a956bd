package batch

import (
	"context"

	"github.com/openledgerhq/feerelay/src/transfer"
	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/crypt"
	"github.com/openledgerhq/feerelay/src/utils/logger"
	"github.com/openledgerhq/feerelay/src/utils/model"
	"github.com/openledgerhq/feerelay/src/utils/monitoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Recipient struct {
	Account string
	Amount  decimal.Decimal
}

// Service accepts one-to-many send requests.
// Accepting a batch only persists it, the sending itself is done
// asynchronously by the processor, kicked through a postgres notification.
type Service struct {
	config  *config.Config
	log     *logrus.Entry
	store   Store
	cipher  crypt.Cipher
	monitor monitoring.Monitor
}

func NewService(config *config.Config) (self *Service) {
	self = new(Service)
	self.config = config
	self.log = logger.NewSublogger("batch-service")
	return
}

func (self *Service) WithStore(store Store) *Service {
	self.store = store
	return self
}

func (self *Service) WithCipher(cipher crypt.Cipher) *Service {
	self.cipher = cipher
	return self
}

func (self *Service) WithMonitor(monitor monitoring.Monitor) *Service {
	self.monitor = monitor
	return self
}

// CreateBatch validates and persists the request with one detail row per
// recipient. All recipients get validated before anything is written, a
// batch is accepted whole or rejected whole.
func (self *Service) CreateBatch(ctx context.Context, category1, category2 string, recipients []Recipient) (request *model.BatchRequest, err error) {
	if len(recipients) == 0 {
		return nil, apperr.Validation("batch must have at least one recipient")
	}

	for i, recipient := range recipients {
		err = transfer.ValidateAccount(recipient.Account)
		if err != nil {
			return nil, apperr.Validation("recipient %d: %s", i, err)
		}
		err = transfer.ValidateAmount(recipient.Amount)
		if err != nil {
			return nil, apperr.Validation("recipient %d: %s", i, err)
		}
	}

	request = &model.BatchRequest{
		RequestId:  uuid.New(),
		Category1:  category1,
		Category2:  category2,
		TotalCount: len(recipients),
		Status:     model.BatchStatusPending,
	}

	details := make([]*model.BatchDetail, 0, len(recipients))
	for _, recipient := range recipients {
		var sealed []byte
		sealed, err = self.cipher.Seal([]byte(recipient.Account))
		if err != nil {
			return nil, apperr.System(err, "failed to encrypt recipient account")
		}
		details = append(details, &model.BatchDetail{
			RequestId:        request.RequestId,
			RecipientAccount: sealed,
			Amount:           recipient.Amount,
		})
	}

	err = self.store.CreateBatch(ctx, request, details)
	if err != nil {
		self.monitor.GetReport().Batch.Errors.DbError.Inc()
		return nil, err
	}

	self.monitor.GetReport().Batch.State.RequestsCreated.Inc()
	self.log.WithField("request_id", request.RequestId).
		WithField("total_count", request.TotalCount).
		Info("Accepted batch request")

	return
}

// GetBatchStatus returns the request row with its cached counters.
// Counters trail the detail rows slightly while the batch is in flight.
func (self *Service) GetBatchStatus(ctx context.Context, requestId uuid.UUID) (*model.BatchRequest, error) {
	return self.store.GetRequest(ctx, requestId)
}
