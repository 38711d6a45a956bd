package relay

import (
	"net/http"

	"github.com/openledgerhq/feerelay/src/batch"
	"github.com/openledgerhq/feerelay/src/transfer"
	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Rest exposes the transfer and batch operations over HTTP.
// Handlers only translate between JSON and the services, every rule lives
// in the service layer.
type Rest struct {
	config          *config.Config
	log             *logrus.Entry
	transferService *transfer.Service
	batchService    *batch.Service
}

func NewRest(config *config.Config) (self *Rest) {
	self = new(Rest)
	self.config = config
	self.log = logger.NewSublogger("rest")
	return
}

func (self *Rest) WithTransferService(service *transfer.Service) *Rest {
	self.transferService = service
	return self
}

func (self *Rest) WithBatchService(service *batch.Service) *Rest {
	self.batchService = service
	return self
}

func (self *Rest) Register(router *gin.Engine) {
	v1 := router.Group("v1")
	{
		v1.POST("transfers", self.onCreateTransfer)
		v1.GET("transfers/:id", self.onGetTransfer)
		v1.POST("transfers/:id/finalize", self.onFinalizeTransfer)

		v1.POST("batches", self.onCreateBatch)
		v1.GET("batches/:id", self.onGetBatch)
	}
}

func (self *Rest) onError(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	if status >= http.StatusInternalServerError {
		self.log.WithError(err).WithField("url", c.Request.URL.Path).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (self *Rest) parseId(c *gin.Context) (id uuid.UUID, ok bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		self.onError(c, apperr.Validation("malformed id %q", c.Param("id")))
		return id, false
	}
	return id, true
}

type createTransferRequest struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
}

func (self *Rest) onCreateTransfer(c *gin.Context) {
	var in createTransferRequest
	err := c.ShouldBindJSON(&in)
	if err != nil {
		self.onError(c, apperr.Validation("malformed request: %s", err))
		return
	}

	out, err := self.transferService.Create(c.Request.Context(), in.FromAccount, in.ToAccount, in.Amount)
	if err != nil {
		self.onError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"contract_id":       out.ContractId,
		"unsigned_artifact": out.UnsignedArtifact,
		"status":            out.Status,
	})
}

func (self *Rest) onGetTransfer(c *gin.Context) {
	contractId, ok := self.parseId(c)
	if !ok {
		return
	}

	contract, err := self.transferService.Status(c.Request.Context(), contractId)
	if err != nil {
		self.onError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contract_id":   contract.ContractId,
		"from_account":  contract.FromAccount,
		"to_account":    contract.ToAccount,
		"amount":        contract.Amount,
		"status":        contract.Status,
		"ledger_ref":    contract.LedgerRef,
		"error_message": contract.ErrorMessage,
	})
}

type finalizeTransferRequest struct {
	CounterSignedArtifact []byte `json:"counter_signed_artifact"`
}

func (self *Rest) onFinalizeTransfer(c *gin.Context) {
	contractId, ok := self.parseId(c)
	if !ok {
		return
	}

	var in finalizeTransferRequest
	err := c.ShouldBindJSON(&in)
	if err != nil {
		self.onError(c, apperr.Validation("malformed request: %s", err))
		return
	}

	out, err := self.transferService.Finalize(c.Request.Context(), contractId, in.CounterSignedArtifact)
	if err != nil {
		self.onError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger_ref": out.LedgerRef,
		"status":     out.Status,
	})
}

type createBatchRequest struct {
	Category1  string `json:"category_1"`
	Category2  string `json:"category_2"`
	Recipients []struct {
		Account string          `json:"account"`
		Amount  decimal.Decimal `json:"amount"`
	} `json:"recipients"`
}

func (self *Rest) onCreateBatch(c *gin.Context) {
	var in createBatchRequest
	err := c.ShouldBindJSON(&in)
	if err != nil {
		self.onError(c, apperr.Validation("malformed request: %s", err))
		return
	}

	recipients := make([]batch.Recipient, 0, len(in.Recipients))
	for _, recipient := range in.Recipients {
		recipients = append(recipients, batch.Recipient{
			Account: recipient.Account,
			Amount:  recipient.Amount,
		})
	}

	request, err := self.batchService.CreateBatch(c.Request.Context(), in.Category1, in.Category2, recipients)
	if err != nil {
		self.onError(c, err)
		return
	}

	// Accepted, the sending happens asynchronously
	c.JSON(http.StatusAccepted, gin.H{
		"request_id":  request.RequestId,
		"total_count": request.TotalCount,
		"status":      request.Status,
	})
}

func (self *Rest) onGetBatch(c *gin.Context) {
	requestId, ok := self.parseId(c)
	if !ok {
		return
	}

	request, err := self.batchService.GetBatchStatus(c.Request.Context(), requestId)
	if err != nil {
		self.onError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":      request.RequestId,
		"category_1":      request.Category1,
		"category_2":      request.Category2,
		"total_count":     request.TotalCount,
		"completed_count": request.CompletedCount,
		"failed_count":    request.FailedCount,
		"status":          request.Status,
	})
}
