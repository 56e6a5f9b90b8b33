package flow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind tells the desk how a rejected position can be resolved.
type ErrorKind string

const (
	// KindError is fatal; resubmitting with more data will not help.
	KindError ErrorKind = "error"
	// KindConfirmation is resolvable by resubmitting with an
	// acknowledgement flag or a priced bypass.
	KindConfirmation ErrorKind = "confirmation"
	// KindInput is resolvable by resubmitting with a concrete value.
	KindInput ErrorKind = "input"
)

// Error is the structured rejection every flow operation returns. The
// transport layer renders it as a form re-prompt: MissingField names the
// field to supply, BypassPrice the price the cashier may charge instead
// of satisfying the constraint normally.
type Error struct {
	Message      string
	Kind         ErrorKind
	MissingField string
	BypassPrice  *decimal.Decimal
}

func (e *Error) Error() string {
	return e.Message
}

func newError(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Kind: KindError}
}

func newConfirmation(msg, field string, bypass *decimal.Decimal) *Error {
	return &Error{Message: msg, Kind: KindConfirmation, MissingField: field, BypassPrice: bypass}
}

func newInput(msg, field string, bypass *decimal.Decimal) *Error {
	return &Error{Message: msg, Kind: KindInput, MissingField: field, BypassPrice: bypass}
}

// AsFlowError unwraps err into a *Error when it is one.
func AsFlowError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

var (
	// ErrEmptyTransaction rejects a checkout without positions.
	ErrEmptyTransaction = errors.New("empty transaction")
	// ErrRejected marks a checkout where at least one position failed;
	// the whole transaction has been rolled back and the result carries
	// per-position feedback.
	ErrRejected = errors.New("transaction rejected")
)
