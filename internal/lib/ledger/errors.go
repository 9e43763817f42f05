package ledger

import (
	"errors"
	"fmt"
)

// Code classifies a ledger failure. The string form is what the API returns to clients.
type Code string

const (
	CodeInvalidParameters   Code = "InvalidParameters"
	CodeNotFound            Code = "NotFound"
	CodeUnauthorized        Code = "Unauthorized"
	CodeContractPaused      Code = "ContractPaused"
	CodePoolInactive        Code = "PoolInactive"
	CodeOutsideWindow       Code = "OutsideWindow"
	CodeWalletCapExceeded   Code = "WalletCapExceeded"
	CodePoolCapExceeded     Code = "PoolCapExceeded"
	CodeInsufficientStake   Code = "InsufficientStake"
	CodeNothingToClaim      Code = "NothingToClaim"
	CodeInsufficientBalance Code = "InsufficientBalance"
	CodeInsufficientFee     Code = "InsufficientFee"
	CodeAlreadyInState      Code = "AlreadyInState"
	CodeInvalidAddress      Code = "InvalidAddress"
)

// Error is a validation failure raised by the ledger itself. Failures of the asset collaborator are
// returned wrapped instead and carry no Code.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidParameters   = &Error{Code: CodeInvalidParameters}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrUnauthorized        = &Error{Code: CodeUnauthorized}
	ErrContractPaused      = &Error{Code: CodeContractPaused}
	ErrPoolInactive        = &Error{Code: CodePoolInactive}
	ErrOutsideWindow       = &Error{Code: CodeOutsideWindow}
	ErrWalletCapExceeded   = &Error{Code: CodeWalletCapExceeded}
	ErrPoolCapExceeded     = &Error{Code: CodePoolCapExceeded}
	ErrInsufficientStake   = &Error{Code: CodeInsufficientStake}
	ErrNothingToClaim      = &Error{Code: CodeNothingToClaim}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrInsufficientFee     = &Error{Code: CodeInsufficientFee}
	ErrAlreadyInState      = &Error{Code: CodeAlreadyInState}
	ErrInvalidAddress      = &Error{Code: CodeInvalidAddress}
)

func fail(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the ledger code carried by err, or "" if err didn't originate in the ledger.
func CodeOf(err error) Code {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ""
}
