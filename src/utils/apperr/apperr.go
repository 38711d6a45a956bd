package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-distinguishable class of a failure.
// Callers match on it with errors.As, never on message contents.
type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuthorizationMissing
	KindLedgerSubmission
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthorizationMissing:
		return "authorization_missing"
	case KindLedgerSubmission:
		return "ledger_submission"
	default:
		return "system"
	}
}

// Signer narrows KindAuthorizationMissing down to the missing party
type Signer int

const (
	SignerNone Signer = iota
	SignerFeePayer
	SignerCounterparty
)

type Error struct {
	Kind    Kind
	Signer  Signer
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func MissingFeePayerAuthorization(account string) error {
	return &Error{
		Kind:    KindAuthorizationMissing,
		Signer:  SignerFeePayer,
		Message: fmt.Sprintf("artifact not authorized by fee payer account %s", account),
	}
}

func MissingCounterpartyAuthorization(account string) error {
	return &Error{
		Kind:    KindAuthorizationMissing,
		Signer:  SignerCounterparty,
		Message: fmt.Sprintf("artifact not authorized by source account %s", account),
	}
}

func LedgerSubmission(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindLedgerSubmission, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func System(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindSystem, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// GetKind extracts the failure class. Anything untagged is a system error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetSigner returns which required signer was reported missing, if any
func GetSigner(err error) Signer {
	var e *Error
	if errors.As(err, &e) {
		return e.Signer
	}
	return SignerNone
}

// Single lookup table mapping failure classes to transport status codes
var statusByKind = map[Kind]int{
	KindValidation:           http.StatusBadRequest,
	KindNotFound:             http.StatusNotFound,
	KindConflict:             http.StatusConflict,
	KindAuthorizationMissing: http.StatusUnprocessableEntity,
	KindLedgerSubmission:     http.StatusBadGateway,
	KindSystem:               http.StatusInternalServerError,
}

func StatusCode(err error) int {
	status, ok := statusByKind[GetKind(err)]
	if !ok {
		return http.StatusInternalServerError
	}
	return status
}
