package transfer

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

// Store persists transfer contracts.
// Terminal transitions are conditional updates, the caller learns whether
// its write won so two concurrent finalizers can't both believe they did.
type Store interface {
	Create(ctx context.Context, contract *model.TransferContract) error
	Get(ctx context.Context, contractId uuid.UUID) (*model.TransferContract, error)
	MarkCompleted(ctx context.Context, contractId uuid.UUID, ledgerRef string) (won bool, err error)
	MarkFailed(ctx context.Context, contractId uuid.UUID, errorMessage string) (won bool, err error)
}

type GormStore struct {
	config *config.Config
	log    *logrus.Entry
	db     *gorm.DB
}

func NewGormStore(config *config.Config, db *gorm.DB) (self *GormStore) {
	self = new(GormStore)
	self.config = config
	self.log = logger.NewSublogger("transfer-store")
	self.db = db
	return
}

func (self *GormStore) Create(ctx context.Context, contract *model.TransferContract) (err error) {
	ctx, cancel := context.WithTimeout(ctx, self.config.Transfer.StoreTimeout)
	defer cancel()

	err = self.db.WithContext(ctx).Create(contract).Error
	if err != nil {
		self.log.WithError(err).WithField("contract_id", contract.ContractId).Error("Failed to insert contract")
		return apperr.System(err, "failed to persist contract")
	}
	return
}

func (self *GormStore) Get(ctx context.Context, contractId uuid.UUID) (contract *model.TransferContract, err error) {
	ctx, cancel := context.WithTimeout(ctx, self.config.Transfer.StoreTimeout)
	defer cancel()

	contract = new(model.TransferContract)
	err = self.db.WithContext(ctx).
		Where("contract_id = ?", contractId).
		First(contract).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("contract", contractId.String())
		}
		self.log.WithError(err).WithField("contract_id", contractId).Error("Failed to load contract")
		return nil, apperr.System(err, "failed to load contract")
	}
	return
}

// MarkCompleted flips a still-pending contract to COMPLETED in one
// conditional update. A zero affected-row count means somebody else
// already moved the contract to a terminal state.
func (self *GormStore) MarkCompleted(ctx context.Context, contractId uuid.UUID, ledgerRef string) (won bool, err error) {
	return self.markTerminal(ctx, contractId, map[string]interface{}{
		"status":     model.TransferStatusCompleted,
		"ledger_ref": ledgerRef,
	})
}

func (self *GormStore) MarkFailed(ctx context.Context, contractId uuid.UUID, errorMessage string) (won bool, err error) {
	return self.markTerminal(ctx, contractId, map[string]interface{}{
		"status":        model.TransferStatusFailed,
		"error_message": errorMessage,
	})
}

func (self *GormStore) markTerminal(ctx context.Context, contractId uuid.UUID, values map[string]interface{}) (won bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, self.config.Transfer.StoreTimeout)
	defer cancel()

	result := self.db.WithContext(ctx).
		Model(&model.TransferContract{}).
		Where("contract_id = ? AND status = ?", contractId, model.TransferStatusPending).
		Updates(values)
	if result.Error != nil {
		self.log.WithError(result.Error).WithField("contract_id", contractId).Error("Failed to update contract")
		return false, apperr.System(result.Error, "failed to update contract")
	}

	return result.RowsAffected > 0, nil
}
