// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"encoding/hex"
	"fmt"
)

// Chain identifies an external UTXO chain bridged by the gateway.
type Chain uint8

const (
	// Bitcoin is the Bitcoin mainchain.
	Bitcoin Chain = iota

	// Dogecoin is the Dogecoin mainchain.
	Dogecoin
)

// String returns the Chain as a human-readable name.
func (c Chain) String() string {
	switch c {
	case Bitcoin:
		return "Bitcoin"
	case Dogecoin:
		return "Dogecoin"
	default:
		return fmt.Sprintf("Unknown Chain (%d)", uint8(c))
	}
}

// Key returns the single byte key used to scope database buckets and
// records to this chain.
func (c Chain) Key() []byte {
	return []byte{byte(c)}
}

// AccountIDSize is the byte length of a host ledger account identifier.
const AccountIDSize = 32

// AccountID identifies an account on the host ledger.
type AccountID [AccountIDSize]byte

// String returns the hex encoding of the account id.
func (a AccountID) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAccountID parses the hex encoding of a host account id.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != AccountIDSize {
		return id, fmt.Errorf("invalid account id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// AssetID identifies a pegged asset on the host ledger.
type AssetID uint32
