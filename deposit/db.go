// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// Bucket names used within the deposit namespace.  Address keys are
// prefixed with the chain byte so the same address string on two chains
// never collides.
var (
	bindingsBucketName  = []byte("bindings")
	referralsBucketName = []byte("referrals")
	pendingBucketName   = []byte("pending")
)

var byteOrder = binary.BigEndian

// Init creates the deposit bucket structure within the given namespace.
// It is idempotent and must be called once before any other operation.
func Init(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{
		bindingsBucketName, referralsBucketName, pendingBucketName,
	} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			return newError(ErrDatabase,
				"failed to create deposit bucket", err)
		}
	}
	return nil
}

func addrKey(chain gateway.Chain, addr string) []byte {
	key := make([]byte, 0, 1+len(addr))
	key = append(key, chain.Key()...)
	return append(key, addr...)
}

func putBinding(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	addr string, account gateway.AccountID) error {

	err := ns.NestedReadWriteBucket(bindingsBucketName).
		Put(addrKey(chain, addr), account[:])
	if err != nil {
		return newError(ErrDatabase, "failed to store address binding", err)
	}
	return nil
}

func fetchBinding(ns walletdb.ReadBucket, chain gateway.Chain,
	addr string) (gateway.AccountID, bool) {

	var account gateway.AccountID
	serialized := ns.NestedReadBucket(bindingsBucketName).
		Get(addrKey(chain, addr))
	if len(serialized) != gateway.AccountIDSize {
		return account, false
	}
	copy(account[:], serialized)
	return account, true
}

func putReferral(ns walletdb.ReadWriteBucket, account,
	referral gateway.AccountID) error {

	err := ns.NestedReadWriteBucket(referralsBucketName).
		Put(account[:], referral[:])
	if err != nil {
		return newError(ErrDatabase, "failed to store referral binding", err)
	}
	return nil
}

func fetchReferral(ns walletdb.ReadBucket,
	account gateway.AccountID) (gateway.AccountID, bool) {

	var referral gateway.AccountID
	serialized := ns.NestedReadBucket(referralsBucketName).
		Get(account[:])
	if len(serialized) != gateway.AccountIDSize {
		return referral, false
	}
	copy(referral[:], serialized)
	return referral, true
}

// PendingDeposit is a deposit whose payer account could not be resolved
// when it confirmed, parked under its input address until that address
// is bound.
type PendingDeposit struct {
	TxID  chainhash.Hash
	Value uint64
}

// pendingEntrySize is the fixed serialized size of one pending deposit:
// 32-byte txid followed by the 8-byte value.
const pendingEntrySize = chainhash.HashSize + 8

func serializePending(pending []PendingDeposit) []byte {
	buf := make([]byte, 0, len(pending)*pendingEntrySize)
	for _, p := range pending {
		buf = append(buf, p.TxID[:]...)
		var value [8]byte
		byteOrder.PutUint64(value[:], p.Value)
		buf = append(buf, value[:]...)
	}
	return buf
}

func deserializePending(serialized []byte) ([]PendingDeposit, error) {
	if len(serialized)%pendingEntrySize != 0 {
		return nil, newError(ErrSerialization,
			"malformed pending deposit list", nil)
	}
	pending := make([]PendingDeposit, 0, len(serialized)/pendingEntrySize)
	for off := 0; off < len(serialized); off += pendingEntrySize {
		var p PendingDeposit
		copy(p.TxID[:], serialized[off:off+chainhash.HashSize])
		p.Value = byteOrder.Uint64(
			serialized[off+chainhash.HashSize : off+pendingEntrySize],
		)
		pending = append(pending, p)
	}
	return pending, nil
}

func fetchPending(ns walletdb.ReadBucket, chain gateway.Chain,
	addr string) ([]PendingDeposit, error) {

	serialized := ns.NestedReadBucket(pendingBucketName).
		Get(addrKey(chain, addr))
	if serialized == nil {
		return nil, nil
	}
	return deserializePending(serialized)
}

// appendPending parks a deposit under the address unless the same txid
// is already queued there; re-submissions must not double-count.
func appendPending(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	addr string, p PendingDeposit) (bool, error) {

	pending, err := fetchPending(ns, chain, addr)
	if err != nil {
		return false, err
	}
	for _, existing := range pending {
		if bytes.Equal(existing.TxID[:], p.TxID[:]) {
			return false, nil
		}
	}
	pending = append(pending, p)

	err = ns.NestedReadWriteBucket(pendingBucketName).
		Put(addrKey(chain, addr), serializePending(pending))
	if err != nil {
		return false, newError(ErrDatabase,
			"failed to store pending deposit", err)
	}
	return true, nil
}

func deletePending(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	addr string) error {

	err := ns.NestedReadWriteBucket(pendingBucketName).
		Delete(addrKey(chain, addr))
	if err != nil {
		return newError(ErrDatabase,
			"failed to clear pending deposits", err)
	}
	return nil
}
