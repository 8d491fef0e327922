// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.
	// When this error code is set, the Err field will be set to the
	// underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrSerialization indicates that a stored trustee record could
	// not be serialized or deserialized.
	ErrSerialization

	// ErrInvalidPublicKey indicates that a hot or cold trustee key is
	// not a valid compressed secp256k1 public key.
	ErrInvalidPublicKey

	// ErrInvalidAbout indicates that a trustee's about text exceeds the
	// maximum length or contains forbidden markup.
	ErrInvalidAbout

	// ErrNotPreselectedMember indicates that an account attempting to
	// register is neither in the eligible member pool nor in the
	// blacklist.
	ErrNotPreselectedMember

	// ErrExistCurrentTrustee indicates that a sitting trustee attempted
	// to change its registration while a transition is active.
	ErrExistCurrentTrustee

	// ErrNotRegistered indicates that an account has no trustee
	// intention properties for the requested chain.
	ErrNotRegistered

	// ErrDuplicatedAccount indicates that a candidate list contains the
	// same account more than once.
	ErrDuplicatedAccount

	// ErrInvalidMultisig indicates that a derived custody account
	// collides with an existing custody account.
	ErrInvalidMultisig

	// ErrScriptCreation indicates that the custody redeem script or
	// address could not be built.
	ErrScriptCreation

	// ErrSessionNotExists indicates that no trustee session exists for
	// the requested chain and number.
	ErrSessionNotExists

	// ErrLastTransitionNotCompleted indicates that a rotation was
	// requested while a previous transition is still in progress.
	ErrLastTransitionNotCompleted

	// ErrMembersNotEnough indicates that the filtered candidate pool is
	// smaller than the configured trustee set size.
	ErrMembersNotEnough

	// ErrNotMultiSigCount indicates that a reward settlement was
	// requested for a session whose total signing weight is zero.
	ErrNotMultiSigCount

	// ErrInvalidMultiAccount indicates that a session has no custody
	// account to settle rewards from.
	ErrInvalidMultiAccount

	// ErrNotTrusteeAdmin indicates that the acting account is not the
	// trustee administrator.
	ErrNotTrusteeAdmin

	// ErrInvalidSessionNumber indicates a session number that cannot be
	// resolved for the requested chain.
	ErrInvalidSessionNumber

	// ErrInvalidRedeemScript indicates that a supplied redeem script
	// does not match the session's custody script.
	ErrInvalidRedeemScript

	// ErrUnsupportedChain indicates a chain with no custody derivation.
	ErrUnsupportedChain
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:                   "ErrDatabase",
	ErrSerialization:              "ErrSerialization",
	ErrInvalidPublicKey:           "ErrInvalidPublicKey",
	ErrInvalidAbout:               "ErrInvalidAbout",
	ErrNotPreselectedMember:       "ErrNotPreselectedMember",
	ErrExistCurrentTrustee:        "ErrExistCurrentTrustee",
	ErrNotRegistered:              "ErrNotRegistered",
	ErrDuplicatedAccount:          "ErrDuplicatedAccount",
	ErrInvalidMultisig:            "ErrInvalidMultisig",
	ErrScriptCreation:             "ErrScriptCreation",
	ErrSessionNotExists:           "ErrSessionNotExists",
	ErrLastTransitionNotCompleted: "ErrLastTransitionNotCompleted",
	ErrMembersNotEnough:           "ErrMembersNotEnough",
	ErrNotMultiSigCount:           "ErrNotMultiSigCount",
	ErrInvalidMultiAccount:        "ErrInvalidMultiAccount",
	ErrNotTrusteeAdmin:            "ErrNotTrusteeAdmin",
	ErrInvalidSessionNumber:       "ErrInvalidSessionNumber",
	ErrInvalidRedeemScript:        "ErrInvalidRedeemScript",
	ErrUnsupportedChain:           "ErrUnsupportedChain",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during
// trustee registry and session operation.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// newError creates a new Error.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is an Error with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(Error)
	return ok && e.ErrorCode == code
}
