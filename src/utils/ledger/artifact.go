package ledger

import (
	"encoding/json"
	"errors"

	"github.com/openledgerhq/feerelay/src/utils/apperr"

	"github.com/shopspring/decimal"
)

// Authorization is one party's signature over the transfer payload.
// The signature bytes are opaque here, only the ledger can check them.
type Authorization struct {
	Account   string `json:"account"`
	Signature []byte `json:"signature"`
}

// Artifact is the serialized transfer envelope passed between the service,
// the caller and the ledger. It stays submittable until ExpiryHeight.
type Artifact struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	Amount       decimal.Decimal `json:"amount"`
	AnchorId     string          `json:"anchor_id"`
	ExpiryHeight int64           `json:"expiry_height"`

	Authorizations []Authorization `json:"authorizations"`
}

func (self *Artifact) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty artifact")
	}
	return json.Unmarshal(data, self)
}

func (self *Artifact) Marshal() ([]byte, error) {
	return json.Marshal(self)
}

func (self *Artifact) IsAuthorizedBy(account string) bool {
	for _, authorization := range self.Authorizations {
		if authorization.Account == account && len(authorization.Signature) > 0 {
			return true
		}
	}
	return false
}

// VerifyRequiredSigners checks that both the fee payer and the source
// account authorized the transfer. Each missing party is reported with its
// own error so callers can tell whose signature is absent.
func (self *Artifact) VerifyRequiredSigners(feePayer, from string) error {
	if !self.IsAuthorizedBy(feePayer) {
		return apperr.MissingFeePayerAuthorization(feePayer)
	}
	if !self.IsAuthorizedBy(from) {
		return apperr.MissingCounterpartyAuthorization(from)
	}
	return nil
}
