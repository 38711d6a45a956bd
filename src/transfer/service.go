package transfer

import (
	"context"
	"regexp"

	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/ledger"
	"github.com/openledgerhq/feerelay/src/utils/logger"
	"github.com/openledgerhq/feerelay/src/utils/model"
	"github.com/openledgerhq/feerelay/src/utils/monitoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Ledger account identifiers, as accepted by the gateway
var accountPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// Most decimal places the ledger-native unit carries
const maxAmountScale = 9

type CreateResult struct {
	ContractId       uuid.UUID
	UnsignedArtifact []byte
	Status           model.TransferStatus
}

type FinalizeResult struct {
	LedgerRef string
	Status    model.TransferStatus
}

// Service implements the two-phase partial-signature transfer protocol.
// Create builds a fee-payer-authorized artifact, the caller collects the
// counterparty's signature out of band and Finalize verifies and submits it.
type Service struct {
	config  *config.Config
	log     *logrus.Entry
	store   Store
	client  ledger.Client
	monitor monitoring.Monitor
}

func NewService(config *config.Config) (self *Service) {
	self = new(Service)
	self.config = config
	self.log = logger.NewSublogger("transfer-service")
	return
}

func (self *Service) WithStore(store Store) *Service {
	self.store = store
	return self
}

func (self *Service) WithLedgerClient(client ledger.Client) *Service {
	self.client = client
	return self
}

func (self *Service) WithMonitor(monitor monitoring.Monitor) *Service {
	self.monitor = monitor
	return self
}

func ValidateAccount(account string) error {
	if !accountPattern.MatchString(account) {
		return apperr.Validation("malformed account identifier %q", account)
	}
	return nil
}

func ValidateAmount(amount decimal.Decimal) error {
	if amount.Cmp(decimal.Zero) <= 0 {
		return apperr.Validation("amount must be positive, got %s", amount)
	}
	if amount.Exponent() < -maxAmountScale {
		return apperr.Validation("amount %s exceeds the ledger precision of %d decimal places", amount, maxAmountScale)
	}
	return nil
}

// Create is not idempotent, every call mints a new contract.
// Callers retrying a create should deduplicate on their side.
func (self *Service) Create(ctx context.Context, from, to string, amount decimal.Decimal) (out *CreateResult, err error) {
	err = ValidateAccount(from)
	if err != nil {
		return
	}
	err = ValidateAccount(to)
	if err != nil {
		return
	}
	if from == to {
		return nil, apperr.Validation("source and destination accounts must differ")
	}
	err = ValidateAmount(amount)
	if err != nil {
		return
	}

	anchor, err := self.client.FetchAnchor(ctx)
	if err != nil {
		self.log.WithError(err).Error("Failed to fetch anchor")
		self.monitor.GetReport().Transfer.Errors.LedgerSubmitError.Inc()
		return
	}

	// The artifact comes back with the fee payer's authorization applied
	artifact, err := self.client.BuildTransfer(ctx, from, to, amount, anchor)
	if err != nil {
		self.log.WithError(err).Error("Failed to build transfer")
		self.monitor.GetReport().Transfer.Errors.LedgerSubmitError.Inc()
		return
	}

	data, err := artifact.Marshal()
	if err != nil {
		return nil, apperr.System(err, "failed to serialize artifact")
	}

	contract := &model.TransferContract{
		ContractId:       uuid.New(),
		FromAccount:      from,
		ToAccount:        to,
		Amount:           amount,
		Status:           model.TransferStatusPending,
		UnsignedArtifact: data,
		AnchorId:         anchor.Id,
		ExpiryHeight:     anchor.ExpiryHeight,
	}

	err = self.store.Create(ctx, contract)
	if err != nil {
		self.monitor.GetReport().Transfer.Errors.DbError.Inc()
		return
	}

	self.monitor.GetReport().Transfer.State.ContractsCreated.Inc()
	self.log.WithField("contract_id", contract.ContractId).Debug("Created transfer contract")

	return &CreateResult{
		ContractId:       contract.ContractId,
		UnsignedArtifact: data,
		Status:           contract.Status,
	}, nil
}

// Finalize verifies the counter-signed artifact and submits it.
// Called on a contract that isn't pending anymore it reports a conflict and
// doesn't touch the ledger. A missing required signer keeps the contract
// pending so the caller can try again with a complete artifact.
func (self *Service) Finalize(ctx context.Context, contractId uuid.UUID, counterSignedArtifact []byte) (out *FinalizeResult, err error) {
	contract, err := self.store.Get(ctx, contractId)
	if err != nil {
		return
	}

	if contract.Status != model.TransferStatusPending {
		self.monitor.GetReport().Transfer.Errors.FinalizeConflicts.Inc()
		return nil, apperr.Conflict("contract %s already finalized with status %s", contractId, contract.Status)
	}

	artifact := new(ledger.Artifact)
	err = artifact.Unmarshal(counterSignedArtifact)
	if err != nil {
		return nil, apperr.Validation("malformed artifact: %s", err)
	}

	err = self.verifyArtifactMatchesContract(artifact, contract)
	if err != nil {
		return
	}

	err = artifact.VerifyRequiredSigners(self.config.Ledger.FeePayerAccount, contract.FromAccount)
	if err != nil {
		self.monitor.GetReport().Transfer.Errors.AuthorizationMissing.Inc()
		return
	}

	ledgerRef, err := self.client.Submit(ctx, artifact)
	if err != nil {
		return nil, self.fail(ctx, contract, err)
	}

	err = self.client.Confirm(ctx, ledgerRef, contract.ExpiryHeight)
	if err != nil {
		return nil, self.fail(ctx, contract, err)
	}

	won, err := self.store.MarkCompleted(ctx, contractId, ledgerRef)
	if err != nil {
		self.monitor.GetReport().Transfer.Errors.DbError.Inc()
		return
	}
	if !won {
		// Another finalizer got to the terminal state first
		self.monitor.GetReport().Transfer.Errors.FinalizeConflicts.Inc()
		return nil, apperr.Conflict("contract %s already finalized", contractId)
	}

	self.monitor.GetReport().Transfer.State.ContractsCompleted.Inc()
	self.log.WithField("contract_id", contractId).
		WithField("ledger_ref", ledgerRef).
		Debug("Completed transfer contract")

	return &FinalizeResult{
		LedgerRef: ledgerRef,
		Status:    model.TransferStatusCompleted,
	}, nil
}

func (self *Service) Status(ctx context.Context, contractId uuid.UUID) (*model.TransferContract, error) {
	return self.store.Get(ctx, contractId)
}

// The counter-signed artifact has to describe the very transfer the
// contract was created for
func (self *Service) verifyArtifactMatchesContract(artifact *ledger.Artifact, contract *model.TransferContract) error {
	if artifact.From != contract.FromAccount ||
		artifact.To != contract.ToAccount ||
		!artifact.Amount.Equal(contract.Amount) ||
		artifact.AnchorId != contract.AnchorId {
		return apperr.Validation("artifact does not match contract %s", contract.ContractId)
	}
	return nil
}

// Terminal failure path. No automatic retry here, retries belong to the
// caller or to the batch orchestrator.
func (self *Service) fail(ctx context.Context, contract *model.TransferContract, cause error) error {
	self.monitor.GetReport().Transfer.Errors.LedgerSubmitError.Inc()
	self.log.WithError(cause).WithField("contract_id", contract.ContractId).Error("Transfer failed at the ledger")

	won, err := self.store.MarkFailed(ctx, contract.ContractId, cause.Error())
	if err != nil {
		self.monitor.GetReport().Transfer.Errors.DbError.Inc()
		return err
	}
	if won {
		self.monitor.GetReport().Transfer.State.ContractsFailed.Inc()
	}

	return cause
}
