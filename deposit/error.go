// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrSerialization indicates that a stored binding or pending
	// deposit could not be serialized or deserialized.
	ErrSerialization

	// ErrAssetNotRegistered indicates that the deposit's chain has no
	// pegged asset configured.
	ErrAssetNotRegistered

	// ErrInvalidAddress indicates an empty or malformed external
	// address.
	ErrInvalidAddress

	// ErrMint indicates that the host ledger refused a mint.
	ErrMint
)

// errorCodeStrings maps ErrorCode to human-readable strings.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:           "ErrDatabase",
	ErrSerialization:      "ErrSerialization",
	ErrAssetNotRegistered: "ErrAssetNotRegistered",
	ErrInvalidAddress:     "ErrInvalidAddress",
	ErrMint:               "ErrMint",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during
// deposit processing.
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
