package batch

import (
	"context"
	"errors"

	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/logger"
	"github.com/openledgerhq/feerelay/src/utils/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Store persists batch requests and their detail rows.
// Status transitions are conditional updates so a request processed twice,
// e.g. once through the notification channel and once through the poller,
// only gets worked on once.
type Store interface {
	CreateBatch(ctx context.Context, request *model.BatchRequest, details []*model.BatchDetail) error
	GetRequest(ctx context.Context, requestId uuid.UUID) (*model.BatchRequest, error)

	MarkProcessing(ctx context.Context, requestId uuid.UUID) (won bool, err error)
	MarkDone(ctx context.Context, requestId uuid.UUID) (won bool, err error)
	MarkError(ctx context.Context, requestId uuid.UUID) error

	FetchPending(ctx context.Context, requestId uuid.UUID, limit int) ([]*model.BatchDetail, error)
	RecordResult(ctx context.Context, detail *model.BatchDetail) error
	RefreshStats(ctx context.Context, requestId uuid.UUID) error

	ListUnfinished(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type GormStore struct {
	config *config.Config
	log    *logrus.Entry
	db     *gorm.DB
}

func NewGormStore(config *config.Config, db *gorm.DB) (self *GormStore) {
	self = new(GormStore)
	self.config = config
	self.log = logger.NewSublogger("batch-store")
	self.db = db
	return
}

func (self *GormStore) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, self.config.Batch.StoreTimeout)
}

// CreateBatch inserts the request and all of its details in one transaction.
// Either the whole batch becomes visible or none of it does.
func (self *GormStore) CreateBatch(ctx context.Context, request *model.BatchRequest, details []*model.BatchDetail) (err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	err = self.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Create(request).Error
		if err != nil {
			return err
		}
		return tx.CreateInBatches(details, self.config.Batch.BulkInsertLimit).Error
	})
	if err != nil {
		self.log.WithError(err).WithField("request_id", request.RequestId).Error("Failed to insert batch")
		return apperr.System(err, "failed to persist batch")
	}
	return
}

func (self *GormStore) GetRequest(ctx context.Context, requestId uuid.UUID) (request *model.BatchRequest, err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	request = new(model.BatchRequest)
	err = self.db.WithContext(ctx).
		Where("request_id = ?", requestId).
		First(request).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("batch request", requestId.String())
		}
		self.log.WithError(err).WithField("request_id", requestId).Error("Failed to load batch request")
		return nil, apperr.System(err, "failed to load batch request")
	}
	return
}

// MarkProcessing claims the request for processing. Re-claiming a request
// that's already PROCESSING succeeds, that's how interrupted batches get
// picked up again after a restart. Terminal requests can't be claimed.
func (self *GormStore) MarkProcessing(ctx context.Context, requestId uuid.UUID) (won bool, err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	result := self.db.WithContext(ctx).
		Model(&model.BatchRequest{}).
		Where("request_id = ? AND status IN ?",
			requestId, []model.BatchStatus{model.BatchStatusPending, model.BatchStatusProcessing}).
		Update("status", model.BatchStatusProcessing)
	if result.Error != nil {
		self.log.WithError(result.Error).WithField("request_id", requestId).Error("Failed to claim batch request")
		return false, apperr.System(result.Error, "failed to claim batch request")
	}
	return result.RowsAffected > 0, nil
}

func (self *GormStore) MarkDone(ctx context.Context, requestId uuid.UUID) (won bool, err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	result := self.db.WithContext(ctx).
		Model(&model.BatchRequest{}).
		Where("request_id = ? AND status = ?", requestId, model.BatchStatusProcessing).
		Update("status", model.BatchStatusDone)
	if result.Error != nil {
		self.log.WithError(result.Error).WithField("request_id", requestId).Error("Failed to finish batch request")
		return false, apperr.System(result.Error, "failed to finish batch request")
	}
	return result.RowsAffected > 0, nil
}

func (self *GormStore) MarkError(ctx context.Context, requestId uuid.UUID) (err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	err = self.db.WithContext(ctx).
		Model(&model.BatchRequest{}).
		Where("request_id = ? AND status IN ?",
			requestId, []model.BatchStatus{model.BatchStatusPending, model.BatchStatusProcessing}).
		Update("status", model.BatchStatusError).
		Error
	if err != nil {
		self.log.WithError(err).WithField("request_id", requestId).Error("Failed to mark batch request as errored")
		return apperr.System(err, "failed to mark batch request as errored")
	}
	return
}

// FetchPending returns the next page of detail rows that still need sending.
// Unsent rows that ran out of attempts are permanently failed and skipped.
func (self *GormStore) FetchPending(ctx context.Context, requestId uuid.UUID, limit int) (details []*model.BatchDetail, err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	err = self.db.WithContext(ctx).
		Where("request_id = ? AND NOT sent AND attempt_count < ?",
			requestId, self.config.Batch.MaxRetryCount).
		Order("idx ASC").
		Limit(limit).
		Find(&details).
		Error
	if err != nil {
		self.log.WithError(err).WithField("request_id", requestId).Error("Failed to fetch pending details")
		return nil, apperr.System(err, "failed to fetch pending details")
	}
	return
}

// RecordResult writes back the outcome of one detail's send attempts.
// Guarded on the sent flag, an already delivered row is never overwritten.
func (self *GormStore) RecordResult(ctx context.Context, detail *model.BatchDetail) (err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	err = self.db.WithContext(ctx).
		Model(&model.BatchDetail{}).
		Where("idx = ? AND NOT sent", detail.Idx).
		Updates(map[string]interface{}{
			"sent":               detail.Sent,
			"attempt_count":      detail.AttemptCount,
			"last_result_code":   detail.LastResultCode,
			"last_error_message": detail.LastErrorMessage,
		}).
		Error
	if err != nil {
		self.log.WithError(err).WithField("idx", detail.Idx).Error("Failed to record detail result")
		return apperr.System(err, "failed to record detail result")
	}
	return
}

// RefreshStats re-derives the request's counters from its detail rows.
// Detail rows are the source of truth, the counters are a cache.
func (self *GormStore) RefreshStats(ctx context.Context, requestId uuid.UUID) (err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	err = self.db.WithContext(ctx).Exec(`
		UPDATE batch_requests
		SET completed_count = stats.completed,
		    failed_count    = stats.failed,
		    updated_at      = now()
		FROM (SELECT count(*) FILTER (WHERE sent)                                  AS completed,
		             count(*) FILTER (WHERE NOT sent AND attempt_count >= ?)       AS failed
		      FROM batch_details
		      WHERE request_id = ?) AS stats
		WHERE request_id = ?`,
		self.config.Batch.MaxRetryCount, requestId, requestId).
		Error
	if err != nil {
		self.log.WithError(err).WithField("request_id", requestId).Error("Failed to refresh batch counters")
		return apperr.System(err, "failed to refresh batch counters")
	}
	return
}

// ListUnfinished returns requests the orchestrator should be working on.
// Used by the poller to pick up batches created while the notification
// listener was down and batches interrupted by a restart.
func (self *GormStore) ListUnfinished(ctx context.Context, limit int) (requestIds []uuid.UUID, err error) {
	ctx, cancel := self.timeout(ctx)
	defer cancel()

	err = self.db.WithContext(ctx).
		Model(&model.BatchRequest{}).
		Where("status IN ?", []model.BatchStatus{model.BatchStatusPending, model.BatchStatusProcessing}).
		Order("created_at ASC").
		Limit(limit).
		Pluck("request_id", &requestIds).
		Error
	if err != nil {
		self.log.WithError(err).Error("Failed to list unfinished batch requests")
		return nil, apperr.System(err, "failed to list unfinished batch requests")
	}
	return
}
