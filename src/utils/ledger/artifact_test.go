package ledger

import (
	"testing"

	"github.com/openledgerhq/feerelay/src/utils/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func signedArtifact(accounts ...string) *Artifact {
	artifact := &Artifact{
		From:         "SRC",
		To:           "DST",
		Amount:       decimal.NewFromInt(10),
		AnchorId:     "anchor-1",
		ExpiryHeight: 100,
	}
	for _, account := range accounts {
		artifact.Authorizations = append(artifact.Authorizations, Authorization{
			Account:   account,
			Signature: []byte("sig-" + account),
		})
	}
	return artifact
}

func TestArtifactRoundTrip(t *testing.T) {
	artifact := signedArtifact("FEE", "SRC")

	data, err := artifact.Marshal()
	assert.NoError(t, err)

	var decoded Artifact
	assert.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, "SRC", decoded.From)
	assert.True(t, decoded.Amount.Equal(decimal.NewFromInt(10)))
	assert.True(t, decoded.IsAuthorizedBy("FEE"))
}

func TestArtifactRejectsEmptyInput(t *testing.T) {
	var artifact Artifact
	assert.Error(t, artifact.Unmarshal(nil))
}

func TestVerifyRequiredSignersDistinguishesMissingParty(t *testing.T) {
	// Only the counterparty signed
	err := signedArtifact("SRC").VerifyRequiredSigners("FEE", "SRC")
	assert.Equal(t, apperr.KindAuthorizationMissing, apperr.GetKind(err))
	assert.Equal(t, apperr.SignerFeePayer, apperr.GetSigner(err))

	// Only the fee payer signed
	err = signedArtifact("FEE").VerifyRequiredSigners("FEE", "SRC")
	assert.Equal(t, apperr.KindAuthorizationMissing, apperr.GetKind(err))
	assert.Equal(t, apperr.SignerCounterparty, apperr.GetSigner(err))

	// Both signed
	assert.NoError(t, signedArtifact("FEE", "SRC").VerifyRequiredSigners("FEE", "SRC"))
}

func TestEmptySignatureDoesNotAuthorize(t *testing.T) {
	artifact := signedArtifact("FEE", "SRC")
	artifact.Authorizations[1].Signature = nil

	err := artifact.VerifyRequiredSigners("FEE", "SRC")
	assert.Equal(t, apperr.SignerCounterparty, apperr.GetSigner(err))
}
