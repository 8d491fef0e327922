// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

// AssetLedger is the host ledger's mint/burn/balance capability for
// pegged assets.  The gateway core consumes this contract but never
// implements it; the host runtime supplies the real ledger.
type AssetLedger interface {
	// Mint credits amount of the asset to the account.
	Mint(asset AssetID, account AccountID, amount uint64) error

	// Burn destroys amount of the asset held by the account.
	Burn(asset AssetID, account AccountID, amount uint64) error

	// Transfer moves amount of the asset between accounts.
	Transfer(asset AssetID, from, to AccountID, amount uint64) error

	// Balance returns the account's balance of the asset.
	Balance(asset AssetID, account AccountID) uint64

	// TotalSupply returns the total issuance of the asset.
	TotalSupply(asset AssetID) uint64
}

// Currency is the host ledger's native reward token.
type Currency interface {
	// Transfer moves amount of the native token between accounts.
	Transfer(from, to AccountID, amount uint64) error

	// Balance returns the account's native token balance.
	Balance(account AccountID) uint64
}

// AccountExtractor decodes a host account, and optionally a referral
// account, from the payload of an OP_RETURN output carried by a deposit
// transaction.
type AccountExtractor interface {
	// Extract returns the decoded account and optional referral.  The
	// bool reports whether the payload held a well-formed account.
	Extract(payload []byte) (AccountID, *AccountID, bool)
}

// AddressBinding maps external chain addresses to host accounts.  The
// bridge maintains a persistent implementation; the interface is the
// contract consumed by deposit crediting.
type AddressBinding interface {
	// Bind associates the external address with the account, replacing
	// any previous association.
	Bind(chain Chain, addr string, account AccountID) error

	// Lookup returns the account bound to the external address.
	Lookup(chain Chain, addr string) (AccountID, bool)
}

// MemberSource supplies the ranked pool of accounts eligible to become
// trustees, best candidates first.
type MemberSource interface {
	// Members returns the eligible accounts in rank order.
	Members() []AccountID
}

// ProofVerifier checks a transaction inclusion proof against a
// previously accepted external chain header.  Header validation itself
// is outside the custody core; a trusted header feed stands behind
// implementations of this interface.
type ProofVerifier interface {
	// Verify reports whether the opaque proof blob binds the given
	// txid to an accepted header.
	Verify(chain Chain, txid [32]byte, proof []byte) bool
}

// AcceptAllProofs is a ProofVerifier that accepts every proof.  It is
// intended for tests and offline tooling only.
type AcceptAllProofs struct{}

// Verify implements the ProofVerifier interface.
func (AcceptAllProofs) Verify(Chain, [32]byte, []byte) bool { return true }
