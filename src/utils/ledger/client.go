package ledger

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openledgerhq/feerelay/src/utils/apperr"
	"github.com/openledgerhq/feerelay/src/utils/build_info"
	"github.com/openledgerhq/feerelay/src/utils/config"
	"github.com/openledgerhq/feerelay/src/utils/logger"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Anchor is a ledger-issued checkpoint bounding how long a transfer
// artifact remains valid for submission.
type Anchor struct {
	Id           string `json:"id"`
	ExpiryHeight int64  `json:"expiry_height"`
}

// Client is the service's only way of reaching the ledger.
// Transaction construction and fee-payer key management live behind it.
type Client interface {
	// FetchAnchor gets a fresh checkpoint and its expiry height
	FetchAnchor(ctx context.Context) (Anchor, error)

	// BuildTransfer constructs the transfer and applies the fee payer's
	// partial authorization. The counterparty's one is still missing.
	BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal, anchor Anchor) (*Artifact, error)

	// Submit pushes a fully authorized artifact to the ledger
	Submit(ctx context.Context, artifact *Artifact) (ledgerRef string, err error)

	// Confirm waits until the submitted transfer is final or its anchor expires
	Confirm(ctx context.Context, ledgerRef string, expiryHeight int64) error
}

type HttpClient struct {
	client  *resty.Client
	config  *config.Config
	log     *logrus.Entry
	limiter *rate.Limiter
}

func NewHttpClient(config *config.Config) (self *HttpClient) {
	self = new(HttpClient)
	self.config = config
	self.log = logger.NewSublogger("ledger-client")

	self.limiter = rate.NewLimiter(rate.Limit(config.Ledger.RequestsPerSecond), 1)

	self.client =
		resty.New().
			SetBaseURL(config.Ledger.NodeUrl).
			SetTimeout(config.Ledger.RequestTimeout).
			SetHeader("User-Agent", "feerelay/"+build_info.Version).
			SetTransport(self.createTransport()).
			OnBeforeRequest(self.onRateLimit).
			OnAfterResponse(self.onStatusToError)

	return
}

func (self *HttpClient) createTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   self.config.Ledger.DialerTimeout,
		KeepAlive: self.config.Ledger.DialerKeepAlive,
	}

	return &http.Transport{
		ForceAttemptHTTP2:     true,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   self.config.Ledger.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       self.config.Ledger.IdleConnTimeout,
		MaxIdleConns:          1,
		MaxIdleConnsPerHost:   1,
	}
}

func (self *HttpClient) onRateLimit(c *resty.Client, req *resty.Request) error {
	return self.limiter.Wait(req.Context())
}

func (self *HttpClient) onStatusToError(c *resty.Client, resp *resty.Response) error {
	// Non-success status code turns into an error
	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() > 399 && resp.StatusCode() < 500 {
		self.log.WithField("status", resp.StatusCode()).
			WithField("resp", string(resp.Body())).
			WithField("url", resp.Request.URL).
			Debug("Bad request")
	}
	return fmt.Errorf("unexpected status: %s", resp.Status())
}

func (self *HttpClient) FetchAnchor(ctx context.Context) (out Anchor, err error) {
	resp, err := self.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/anchor")
	if err != nil {
		return out, apperr.LedgerSubmission(err, "failed to fetch anchor")
	}

	anchor, ok := resp.Result().(*Anchor)
	if !ok || anchor.Id == "" {
		return out, apperr.LedgerSubmission(nil, "ledger returned an empty anchor")
	}

	return *anchor, nil
}

func (self *HttpClient) BuildTransfer(ctx context.Context, from, to string, amount decimal.Decimal, anchor Anchor) (artifact *Artifact, err error) {
	resp, err := self.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"from":          from,
			"to":            to,
			"amount":        amount,
			"anchor_id":     anchor.Id,
			"expiry_height": anchor.ExpiryHeight,
		}).
		SetResult(&Artifact{}).
		Post("/v1/transfers/build")
	if err != nil {
		return nil, apperr.LedgerSubmission(err, "failed to build transfer")
	}

	artifact, ok := resp.Result().(*Artifact)
	if !ok {
		return nil, apperr.LedgerSubmission(nil, "ledger returned a malformed artifact")
	}

	if !artifact.IsAuthorizedBy(self.config.Ledger.FeePayerAccount) {
		return nil, apperr.LedgerSubmission(nil, "built artifact lacks the fee payer authorization")
	}

	return artifact, nil
}

type submitResponse struct {
	LedgerRef string `json:"ledger_ref"`
}

func (self *HttpClient) Submit(ctx context.Context, artifact *Artifact) (ledgerRef string, err error) {
	resp, err := self.client.R().
		SetContext(ctx).
		SetBody(artifact).
		SetResult(&submitResponse{}).
		Post("/v1/transfers")
	if err != nil {
		return "", apperr.LedgerSubmission(err, "failed to submit transfer")
	}

	out, ok := resp.Result().(*submitResponse)
	if !ok || out.LedgerRef == "" {
		return "", apperr.LedgerSubmission(nil, "ledger response has an empty reference")
	}

	return out.LedgerRef, nil
}

type confirmResponse struct {
	Status string `json:"status"`
	Height int64  `json:"height"`
	Error  string `json:"error"`
}

const (
	confirmStatusPending   = "PENDING"
	confirmStatusConfirmed = "CONFIRMED"
	confirmStatusRejected  = "REJECTED"
)

func (self *HttpClient) Confirm(ctx context.Context, ledgerRef string, expiryHeight int64) (err error) {
	for {
		var out confirmResponse
		_, err = self.client.R().
			SetContext(ctx).
			SetResult(&out).
			SetPathParam("ref", ledgerRef).
			Get("/v1/transfers/{ref}")
		if err != nil {
			return apperr.LedgerSubmission(err, "failed to check transfer %s", ledgerRef)
		}

		switch out.Status {
		case confirmStatusConfirmed:
			return nil
		case confirmStatusRejected:
			return apperr.LedgerSubmission(nil, "transfer %s rejected by the ledger: %s", ledgerRef, out.Error)
		case confirmStatusPending:
			// pass through
		default:
			return apperr.LedgerSubmission(nil, "transfer %s in unknown state %s", ledgerRef, out.Status)
		}

		if out.Height > expiryHeight {
			return apperr.LedgerSubmission(nil, "transfer %s expired at height %d", ledgerRef, expiryHeight)
		}

		select {
		case <-ctx.Done():
			return apperr.LedgerSubmission(ctx.Err(), "gave up waiting for transfer %s", ledgerRef)
		case <-time.After(self.config.Ledger.ConfirmPollInterval):
			// pass through
		}
	}
}
