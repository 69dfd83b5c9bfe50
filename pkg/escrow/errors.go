package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when the spendable coins can't cover
	// the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrMissingInputs ...
	ErrMissingInputs = errors.New("missing raw transaction inputs")
	// ErrMissingSigner is returned when the assembler needs to sign a wallet
	// input but no signer was given.
	ErrMissingSigner = errors.New("missing local signer")
	// ErrMissingKey ...
	ErrMissingKey = errors.New("missing multisig private key")
)

// TransactionVerificationError is returned whenever a transaction received
// from the counterparty, or built locally, doesn't match what expected.
// It's never recoverable within the current protocol step.
type TransactionVerificationError struct {
	Reason string
}

func newVerificationError(format string, args ...interface{}) error {
	return &TransactionVerificationError{fmt.Sprintf(format, args...)}
}

func (e *TransactionVerificationError) Error() string {
	return fmt.Sprintf("transaction verification failed: %s", e.Reason)
}
