// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bridge

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrConfig indicates an incomplete or inconsistent bridge
	// configuration.
	ErrConfig

	// ErrTxDecode indicates raw transaction bytes that do not
	// deserialize.
	ErrTxDecode

	// ErrBadProof indicates an inclusion proof the verifier rejected.
	ErrBadProof

	// ErrReplayedTx indicates a transaction that was already processed.
	ErrReplayedTx

	// ErrNoSession indicates that no trustee session exists for the
	// chain yet.
	ErrNoSession

	// ErrUnauthorized indicates an actor lacking the authority for an
	// administrative call.
	ErrUnauthorized

	// ErrProposalInFlight indicates a trustee rotation attempted while
	// a withdrawal proposal is live.
	ErrProposalInFlight

	// ErrUnsupportedChain indicates a chain the bridge is not
	// configured for.
	ErrUnsupportedChain
)

// errorCodeStrings maps ErrorCode to human-readable strings.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:         "ErrDatabase",
	ErrConfig:           "ErrConfig",
	ErrTxDecode:         "ErrTxDecode",
	ErrBadProof:         "ErrBadProof",
	ErrReplayedTx:       "ErrReplayedTx",
	ErrNoSession:        "ErrNoSession",
	ErrUnauthorized:     "ErrUnauthorized",
	ErrProposalInFlight: "ErrProposalInFlight",
	ErrUnsupportedChain: "ErrUnsupportedChain",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during bridge
// operation.
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
