package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := Conflict("contract %s already finalized", "abc")
	wrapped := fmt.Errorf("finalize: %w", err)

	assert.Equal(t, KindConflict, GetKind(wrapped))
	assert.True(t, IsKind(wrapped, KindConflict))
}

func TestSignerDistinction(t *testing.T) {
	feePayer := MissingFeePayerAuthorization("FEE")
	counterparty := MissingCounterpartyAuthorization("SRC")

	assert.Equal(t, KindAuthorizationMissing, GetKind(feePayer))
	assert.Equal(t, KindAuthorizationMissing, GetKind(counterparty))
	assert.Equal(t, SignerFeePayer, GetSigner(feePayer))
	assert.Equal(t, SignerCounterparty, GetSigner(counterparty))
	assert.NotEqual(t, GetSigner(feePayer), GetSigner(counterparty))
}

func TestUntaggedIsSystem(t *testing.T) {
	assert.Equal(t, KindSystem, GetKind(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(Validation("bad amount")))
	assert.Equal(t, http.StatusNotFound, StatusCode(NotFound("contract", "x")))
	assert.Equal(t, http.StatusConflict, StatusCode(Conflict("already finalized")))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(MissingFeePayerAuthorization("FEE")))
	assert.Equal(t, http.StatusBadGateway, StatusCode(LedgerSubmission(errors.New("timeout"), "submit failed")))
}

func TestCauseIsUnwrappable(t *testing.T) {
	cause := errors.New("connection refused")
	err := LedgerSubmission(cause, "submit failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ledger_submission")
}
