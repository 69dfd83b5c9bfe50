package validation

import "fmt"

// ValidationError is implemented by every failure of the validator.
type ValidationError interface {
	error
	validationError()
}

// MissingTransactionError is returned when the tx to validate is missing.
type MissingTransactionError struct {
	What string
}

func (e *MissingTransactionError) Error() string {
	return fmt.Sprintf("missing %s", e.What)
}

// InvalidStructureError is returned for a wrong number of inputs/outputs.
type InvalidStructureError struct {
	Reason string
}

func (e *InvalidStructureError) Error() string {
	return fmt.Sprintf("invalid tx structure: %s", e.Reason)
}

// InvalidLockTimeError is returned when either the lock time or the input
// sequence doesn't match.
type InvalidLockTimeError struct {
	Reason string
}

func (e *InvalidLockTimeError) Error() string {
	return fmt.Sprintf("invalid lock time: %s", e.Reason)
}

// AmountMismatchError is returned when the output amount differs from the
// expected escrow amount.
type AmountMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf(
		"output value %d does not match expected amount %d", e.Actual, e.Expected,
	)
}

// DonationAddressError carries the observed output address and the two
// allowed ones.
type DonationAddressError struct {
	Address        string
	CurrentAddress string
	DefaultAddress string
}

func (e *DonationAddressError) Error() string {
	return fmt.Sprintf(
		"output address %s is neither the current donation address %s nor "+
			"the default one %s",
		e.Address, e.CurrentAddress, e.DefaultAddress,
	)
}

// InvalidInputError is returned when a payout input doesn't spend the
// expected outpoint.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// InvalidReceiversError is returned when the outputs of a delayed payout tx
// in receivers mode don't match the locally computed ones.
type InvalidReceiversError struct {
	Reason string
}

func (e *InvalidReceiversError) Error() string {
	return fmt.Sprintf("invalid delayed payout receivers: %s", e.Reason)
}

// DisputeReplayError is returned when the same trade or tx shows up in too
// many disputes.
type DisputeReplayError struct {
	TradeID string
	Reason  string
}

func (e *DisputeReplayError) Error() string {
	return fmt.Sprintf("dispute replay for trade %s: %s", e.TradeID, e.Reason)
}

func (*MissingTransactionError) validationError() {}
func (*InvalidStructureError) validationError()   {}
func (*InvalidLockTimeError) validationError()    {}
func (*AmountMismatchError) validationError()     {}
func (*DonationAddressError) validationError()    {}
func (*InvalidInputError) validationError()       {}
func (*InvalidReceiversError) validationError()   {}
func (*DisputeReplayError) validationError()      {}
