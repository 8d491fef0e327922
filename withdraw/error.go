// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdraw

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrSerialization indicates that a stored withdrawal record or
	// proposal could not be serialized or deserialized.
	ErrSerialization

	// ErrAssetNotRegistered indicates that the asset is not bound to
	// any bridged chain.
	ErrAssetNotRegistered

	// ErrInvalidAddress indicates a receiving address that does not
	// parse for the destination network.
	ErrInvalidAddress

	// ErrAmountTooLow indicates a withdrawal below the chain's minimum
	// or too small to cover the fee without producing dust.
	ErrAmountTooLow

	// ErrInsufficientBalance indicates the applicant's usable balance
	// does not cover the withdrawal.
	ErrInsufficientBalance

	// ErrLockUnderflow indicates an unlock or destroy of more than the
	// locked amount.
	ErrLockUnderflow

	// ErrRecordNotFound indicates an unknown withdrawal id.
	ErrRecordNotFound

	// ErrInvalidState indicates a state transition the withdrawal
	// record state machine does not permit.
	ErrInvalidState

	// ErrNotApplicant indicates a cancellation by an account other
	// than the withdrawal's applicant.
	ErrNotApplicant

	// ErrProposalExists indicates that a withdrawal proposal is
	// already live for the chain.
	ErrProposalExists

	// ErrNoProposal indicates that no withdrawal proposal is live for
	// the chain.
	ErrNoProposal

	// ErrProposalMismatch indicates a finalized transaction that does
	// not correspond to the live proposal.
	ErrProposalMismatch

	// ErrNoPendingWithdrawals indicates a proposal build with nothing
	// in the applying queue.
	ErrNoPendingWithdrawals

	// ErrInsufficientFunds indicates that the supplied custody inputs
	// cannot cover the proposal outputs and fee.
	ErrInsufficientFunds

	// ErrTxBuild indicates a failure assembling the proposal
	// transaction.
	ErrTxBuild

	// ErrUnsupportedChain indicates a chain with no withdrawal
	// configuration.
	ErrUnsupportedChain
)

// errorCodeStrings maps ErrorCode to human-readable strings.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:             "ErrDatabase",
	ErrSerialization:        "ErrSerialization",
	ErrAssetNotRegistered:   "ErrAssetNotRegistered",
	ErrInvalidAddress:       "ErrInvalidAddress",
	ErrAmountTooLow:         "ErrAmountTooLow",
	ErrInsufficientBalance:  "ErrInsufficientBalance",
	ErrLockUnderflow:        "ErrLockUnderflow",
	ErrRecordNotFound:       "ErrRecordNotFound",
	ErrInvalidState:         "ErrInvalidState",
	ErrNotApplicant:         "ErrNotApplicant",
	ErrProposalExists:       "ErrProposalExists",
	ErrNoProposal:           "ErrNoProposal",
	ErrProposalMismatch:     "ErrProposalMismatch",
	ErrNoPendingWithdrawals: "ErrNoPendingWithdrawals",
	ErrInsufficientFunds:    "ErrInsufficientFunds",
	ErrTxBuild:              "ErrTxBuild",
	ErrUnsupportedChain:     "ErrUnsupportedChain",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during
// withdrawal processing.
type Error struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

func newError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}
