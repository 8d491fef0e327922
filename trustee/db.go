// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// Bucket names and keys used within the trustee namespace.  Each bridged
// chain owns a nested bucket keyed by gateway.Chain.Key holding the
// per-chain registry and session state; the custody index is shared by
// all chains so address collisions can be detected across them.
var (
	propsBucketName     = []byte("props")
	sessionsBucketName  = []byte("sessions")
	sigRecordBucketName = []byte("sigrecords")
	blacklistBucketName = []byte("blacklist")
	hotKeysBucketName   = []byte("hotkeys")
	custodyBucketName   = []byte("custody")

	sessionCountKey    = []byte("sessioncount")
	transitionKey      = []byte("transition")
	preSupplyKey       = []byte("presupply")
	adminKey           = []byte("admin")
	adminMultiplierKey = []byte("adminmultiplier")
)

// Ordered numeric keys are serialized big-endian so bucket cursors
// iterate sessions in creation order.
var byteOrder = binary.BigEndian

func uint32ToBytes(n uint32) []byte {
	buf := make([]byte, 4)
	byteOrder.PutUint32(buf, n)
	return buf
}

func uint64ToBytes(n uint64) []byte {
	buf := make([]byte, 8)
	byteOrder.PutUint64(buf, n)
	return buf
}

// Init creates the trustee bucket structure within the given namespace.
// It is idempotent and must be called once before any other operation.
func Init(ns walletdb.ReadWriteBucket, chains ...gateway.Chain) error {
	if _, err := ns.CreateBucketIfNotExists(custodyBucketName); err != nil {
		return newError(ErrDatabase, "failed to create custody index", err)
	}
	for _, chain := range chains {
		cb, err := ns.CreateBucketIfNotExists(chain.Key())
		if err != nil {
			return newError(ErrDatabase, "failed to create chain bucket", err)
		}
		for _, name := range [][]byte{
			propsBucketName, sessionsBucketName, sigRecordBucketName,
			blacklistBucketName, hotKeysBucketName,
		} {
			if _, err := cb.CreateBucketIfNotExists(name); err != nil {
				return newError(ErrDatabase,
					"failed to create trustee bucket", err)
			}
		}
	}
	return nil
}

func chainBucket(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (walletdb.ReadWriteBucket, error) {

	cb := ns.NestedReadWriteBucket(chain.Key())
	if cb == nil {
		str := fmt.Sprintf("no trustee state for chain %v", chain)
		return nil, newError(ErrUnsupportedChain, str, nil)
	}
	return cb, nil
}

// writeVarBytes appends a length-prefixed byte slice to buf.
func writeVarBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	byteOrder.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

// readVarBytes reads a length-prefixed byte slice from r.
func readVarBytes(r *bytes.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := r.Read(l[:]); err != nil {
		return nil, err
	}
	n := byteOrder.Uint32(l[:])
	if uint32(r.Len()) < n {
		return nil, fmt.Errorf("corrupt record: want %d bytes, have %d",
			n, r.Len())
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// serializeIntentionProps returns the serialization of a trustee's
// intention properties:
//
//	<hasProxy><proxy?><aboutLen><about><hotKeyLen><hotKey><coldKeyLen><coldKey>
func serializeIntentionProps(props *IntentionProps) []byte {
	var buf bytes.Buffer
	if props.Proxy != nil {
		buf.WriteByte(1)
		buf.Write(props.Proxy[:])
	} else {
		buf.WriteByte(0)
	}
	writeVarBytes(&buf, []byte(props.About))
	writeVarBytes(&buf, props.HotKey)
	writeVarBytes(&buf, props.ColdKey)
	return buf.Bytes()
}

func deserializeIntentionProps(serialized []byte) (*IntentionProps, error) {
	r := bytes.NewReader(serialized)
	props := &IntentionProps{}

	hasProxy, err := r.ReadByte()
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read intention props", err)
	}
	if hasProxy == 1 {
		var proxy gateway.AccountID
		if _, err := r.Read(proxy[:]); err != nil {
			return nil, newError(ErrSerialization,
				"failed to read proxy account", err)
		}
		props.Proxy = &proxy
	}
	about, err := readVarBytes(r)
	if err != nil {
		return nil, newError(ErrSerialization, "failed to read about", err)
	}
	props.About = string(about)
	if props.HotKey, err = readVarBytes(r); err != nil {
		return nil, newError(ErrSerialization, "failed to read hot key", err)
	}
	if props.ColdKey, err = readVarBytes(r); err != nil {
		return nil, newError(ErrSerialization, "failed to read cold key", err)
	}
	return props, nil
}

// serializeSessionInfo returns the serialization of a trustee session:
//
//	<threshold><trusteeCount>[<account><weight>...]<custodyAccount>
//	<hotAddr><coldAddr><hotRedeem><coldRedeem><startHeight><endHeight>
//	<scriptMeta>
func serializeSessionInfo(info *SessionInfo) []byte {
	var buf bytes.Buffer
	buf.Write(uint32ToBytes(info.Threshold))
	buf.Write(uint32ToBytes(uint32(len(info.Trustees))))
	for _, t := range info.Trustees {
		buf.Write(t.Account[:])
		buf.Write(uint64ToBytes(t.Weight))
	}
	buf.Write(info.CustodyAccount[:])
	writeVarBytes(&buf, []byte(info.HotAddress))
	writeVarBytes(&buf, []byte(info.ColdAddress))
	writeVarBytes(&buf, info.HotRedeemScript)
	writeVarBytes(&buf, info.ColdRedeemScript)
	buf.Write(uint32ToBytes(info.StartHeight))
	buf.Write(uint32ToBytes(info.EndHeight))
	writeVarBytes(&buf, info.ScriptMeta)
	return buf.Bytes()
}

func deserializeSessionInfo(number uint32, serialized []byte) (*SessionInfo,
	error) {

	r := bytes.NewReader(serialized)
	info := &SessionInfo{Number: number}

	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read session threshold", err)
	}
	info.Threshold = byteOrder.Uint32(n[:])
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read trustee count", err)
	}
	count := byteOrder.Uint32(n[:])
	info.Trustees = make([]TrusteeWeight, count)
	for i := uint32(0); i < count; i++ {
		if _, err := r.Read(info.Trustees[i].Account[:]); err != nil {
			return nil, newError(ErrSerialization,
				"failed to read trustee account", err)
		}
		var w [8]byte
		if _, err := r.Read(w[:]); err != nil {
			return nil, newError(ErrSerialization,
				"failed to read trustee weight", err)
		}
		info.Trustees[i].Weight = byteOrder.Uint64(w[:])
	}
	if _, err := r.Read(info.CustodyAccount[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read custody account", err)
	}

	read := func(dst *[]byte, what string) error {
		b, err := readVarBytes(r)
		if err != nil {
			return newError(ErrSerialization, "failed to read "+what, err)
		}
		*dst = b
		return nil
	}
	var hot, cold []byte
	if err := read(&hot, "hot address"); err != nil {
		return nil, err
	}
	if err := read(&cold, "cold address"); err != nil {
		return nil, err
	}
	info.HotAddress, info.ColdAddress = string(hot), string(cold)
	if err := read(&info.HotRedeemScript, "hot redeem script"); err != nil {
		return nil, err
	}
	if err := read(&info.ColdRedeemScript, "cold redeem script"); err != nil {
		return nil, err
	}
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read start height", err)
	}
	info.StartHeight = byteOrder.Uint32(n[:])
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read end height", err)
	}
	info.EndHeight = byteOrder.Uint32(n[:])
	if err := read(&info.ScriptMeta, "script metadata"); err != nil {
		return nil, err
	}
	return info, nil
}

func putIntentionProps(cb walletdb.ReadWriteBucket, account gateway.AccountID,
	props *IntentionProps) error {

	bucket := cb.NestedReadWriteBucket(propsBucketName)
	err := bucket.Put(account[:], serializeIntentionProps(props))
	if err != nil {
		return newError(ErrDatabase, "failed to store intention props", err)
	}
	return nil
}

func fetchIntentionProps(cb walletdb.ReadWriteBucket,
	account gateway.AccountID) (*IntentionProps, error) {

	serialized := cb.NestedReadWriteBucket(propsBucketName).Get(account[:])
	if serialized == nil {
		str := fmt.Sprintf("account %v has not registered as a trustee",
			account)
		return nil, newError(ErrNotRegistered, str, nil)
	}
	return deserializeIntentionProps(serialized)
}

func existsIntentionProps(cb walletdb.ReadWriteBucket,
	account gateway.AccountID) bool {

	return cb.NestedReadWriteBucket(propsBucketName).Get(account[:]) != nil
}

func putSessionInfo(cb walletdb.ReadWriteBucket, info *SessionInfo) error {
	bucket := cb.NestedReadWriteBucket(sessionsBucketName)
	err := bucket.Put(uint32ToBytes(info.Number), serializeSessionInfo(info))
	if err != nil {
		return newError(ErrDatabase, "failed to store session info", err)
	}
	return nil
}

func fetchSessionInfo(cb walletdb.ReadWriteBucket, number uint32) (*SessionInfo,
	error) {

	serialized := cb.NestedReadWriteBucket(sessionsBucketName).
		Get(uint32ToBytes(number))
	if serialized == nil {
		str := fmt.Sprintf("trustee session %d does not exist", number)
		return nil, newError(ErrSessionNotExists, str, nil)
	}
	return deserializeSessionInfo(number, serialized)
}

func fetchSessionCount(cb walletdb.ReadWriteBucket) uint32 {
	serialized := cb.Get(sessionCountKey)
	if serialized == nil {
		return 0
	}
	return byteOrder.Uint32(serialized)
}

func putSessionCount(cb walletdb.ReadWriteBucket, count uint32) error {
	if err := cb.Put(sessionCountKey, uint32ToBytes(count)); err != nil {
		return newError(ErrDatabase, "failed to store session count", err)
	}
	return nil
}

func fetchTransitionStatus(cb walletdb.ReadWriteBucket) bool {
	serialized := cb.Get(transitionKey)
	return len(serialized) == 1 && serialized[0] == 1
}

func putTransitionStatus(cb walletdb.ReadWriteBucket, inProgress bool) error {
	b := []byte{0}
	if inProgress {
		b[0] = 1
	}
	if err := cb.Put(transitionKey, b); err != nil {
		return newError(ErrDatabase, "failed to store transition status", err)
	}
	return nil
}

func fetchPreTotalSupply(cb walletdb.ReadWriteBucket) uint64 {
	serialized := cb.Get(preSupplyKey)
	if serialized == nil {
		return 0
	}
	return byteOrder.Uint64(serialized)
}

func putPreTotalSupply(cb walletdb.ReadWriteBucket, supply uint64) error {
	if err := cb.Put(preSupplyKey, uint64ToBytes(supply)); err != nil {
		return newError(ErrDatabase, "failed to store supply snapshot", err)
	}
	return nil
}

func fetchSigRecord(cb walletdb.ReadWriteBucket,
	account gateway.AccountID) uint64 {

	serialized := cb.NestedReadWriteBucket(sigRecordBucketName).Get(account[:])
	if serialized == nil {
		return 0
	}
	return byteOrder.Uint64(serialized)
}

func putSigRecord(cb walletdb.ReadWriteBucket, account gateway.AccountID,
	weight uint64) error {

	bucket := cb.NestedReadWriteBucket(sigRecordBucketName)
	if err := bucket.Put(account[:], uint64ToBytes(weight)); err != nil {
		return newError(ErrDatabase, "failed to store signature record", err)
	}
	return nil
}

func clearSigRecords(cb walletdb.ReadWriteBucket) error {
	bucket := cb.NestedReadWriteBucket(sigRecordBucketName)
	var keys [][]byte
	_ = bucket.ForEach(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return newError(ErrDatabase,
				"failed to clear signature records", err)
		}
	}
	return nil
}

func putBlacklisted(cb walletdb.ReadWriteBucket,
	account gateway.AccountID) error {

	bucket := cb.NestedReadWriteBucket(blacklistBucketName)
	if err := bucket.Put(account[:], []byte{}); err != nil {
		return newError(ErrDatabase, "failed to store blacklist entry", err)
	}
	return nil
}

func deleteBlacklisted(cb walletdb.ReadWriteBucket,
	account gateway.AccountID) error {

	bucket := cb.NestedReadWriteBucket(blacklistBucketName)
	if err := bucket.Delete(account[:]); err != nil {
		return newError(ErrDatabase, "failed to remove blacklist entry", err)
	}
	return nil
}

func isBlacklisted(cb walletdb.ReadWriteBucket,
	account gateway.AccountID) bool {

	return cb.NestedReadWriteBucket(blacklistBucketName).Get(account[:]) != nil
}

func forEachBlacklisted(cb walletdb.ReadWriteBucket,
	f func(gateway.AccountID) error) error {

	bucket := cb.NestedReadWriteBucket(blacklistBucketName)
	return bucket.ForEach(func(k, _ []byte) error {
		var account gateway.AccountID
		copy(account[:], k)
		return f(account)
	})
}

func clearHotKeys(cb walletdb.ReadWriteBucket) error {
	bucket := cb.NestedReadWriteBucket(hotKeysBucketName)
	var keys [][]byte
	_ = bucket.ForEach(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return newError(ErrDatabase, "failed to clear hot key index", err)
		}
	}
	return nil
}

func putHotKey(cb walletdb.ReadWriteBucket, pubKey []byte,
	account gateway.AccountID) error {

	bucket := cb.NestedReadWriteBucket(hotKeysBucketName)
	if err := bucket.Put(pubKey, account[:]); err != nil {
		return newError(ErrDatabase, "failed to store hot key index", err)
	}
	return nil
}

func fetchHotKeyAccount(cb walletdb.ReadWriteBucket,
	pubKey []byte) (gateway.AccountID, bool) {

	var account gateway.AccountID
	serialized := cb.NestedReadWriteBucket(hotKeysBucketName).Get(pubKey)
	if serialized == nil {
		return account, false
	}
	copy(account[:], serialized)
	return account, true
}

// putCustodyAccount registers a derived custody account in the shared
// custody index.  Registration fails if the account is already present,
// regardless of which chain owns it.
func putCustodyAccount(ns walletdb.ReadWriteBucket,
	account gateway.AccountID, chain gateway.Chain) error {

	bucket := ns.NestedReadWriteBucket(custodyBucketName)
	if bucket.Get(account[:]) != nil {
		str := fmt.Sprintf("custody account %v already exists", account)
		return newError(ErrInvalidMultisig, str, nil)
	}
	if err := bucket.Put(account[:], chain.Key()); err != nil {
		return newError(ErrDatabase, "failed to store custody account", err)
	}
	return nil
}

func fetchAdmin(ns walletdb.ReadWriteBucket) (gateway.AccountID, bool) {
	var account gateway.AccountID
	serialized := ns.Get(adminKey)
	if serialized == nil {
		return account, false
	}
	copy(account[:], serialized)
	return account, true
}

func putAdmin(ns walletdb.ReadWriteBucket, account gateway.AccountID) error {
	if err := ns.Put(adminKey, account[:]); err != nil {
		return newError(ErrDatabase, "failed to store trustee admin", err)
	}
	return nil
}

func deleteAdmin(ns walletdb.ReadWriteBucket) error {
	if err := ns.Delete(adminKey); err != nil {
		return newError(ErrDatabase, "failed to clear trustee admin", err)
	}
	return nil
}

func fetchAdminMultiplier(ns walletdb.ReadWriteBucket) uint64 {
	serialized := ns.Get(adminMultiplierKey)
	if serialized == nil {
		return defaultAdminMultiplier
	}
	return byteOrder.Uint64(serialized)
}

func putAdminMultiplier(ns walletdb.ReadWriteBucket, multiplier uint64) error {
	if err := ns.Put(adminMultiplierKey, uint64ToBytes(multiplier)); err != nil {
		return newError(ErrDatabase, "failed to store admin multiplier", err)
	}
	return nil
}
