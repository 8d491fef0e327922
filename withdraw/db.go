// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdraw

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// Bucket names and keys used within the withdraw namespace.  Record ids
// are global across chains; per-chain state (config, live proposal and
// the asset binding) is keyed by gateway.Chain.Key.
var (
	recordsBucketName   = []byte("records")
	lockedBucketName    = []byte("locked")
	assetsBucketName    = []byte("assets")
	chainAssetsBucket   = []byte("chainassets")
	proposalsBucketName = []byte("proposals")
	configsBucketName   = []byte("configs")

	nextIDKey = []byte("nextid")
)

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

// Init creates the withdraw bucket structure within the given
// namespace.  It is idempotent and must be called once before any other
// operation.
func Init(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{
		recordsBucketName, lockedBucketName, assetsBucketName,
		chainAssetsBucket, proposalsBucketName, configsBucketName,
	} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			return newError(ErrDatabase,
				"failed to create withdraw bucket", err)
		}
	}
	return nil
}

// State tracks a withdrawal record through its lifecycle.
type State uint8

const (
	// StateApplying is a requested withdrawal waiting to be picked
	// into a proposal.
	StateApplying State = iota

	// StateProcessing is a withdrawal included in the live proposal.
	StateProcessing

	// StateNormalFinish is a withdrawal settled by a confirmed custody
	// spend.
	StateNormalFinish

	// StateRootFinish is a withdrawal settled by governance.
	StateRootFinish

	// StateNormalCancel is a withdrawal cancelled by its applicant.
	StateNormalCancel

	// StateRootCancel is a withdrawal cancelled by governance.
	StateRootCancel
)

// String returns the State as a human-readable name.
func (s State) String() string {
	switch s {
	case StateApplying:
		return "Applying"
	case StateProcessing:
		return "Processing"
	case StateNormalFinish:
		return "NormalFinish"
	case StateRootFinish:
		return "RootFinish"
	case StateNormalCancel:
		return "NormalCancel"
	case StateRootCancel:
		return "RootCancel"
	default:
		return fmt.Sprintf("Unknown State (%d)", uint8(s))
	}
}

// Final reports whether the state terminates the record's lifecycle.
func (s State) Final() bool {
	switch s {
	case StateNormalFinish, StateRootFinish, StateNormalCancel,
		StateRootCancel:
		return true
	default:
		return false
	}
}

// Record is one withdrawal request.
type Record struct {
	// ID is the global withdrawal serial.
	ID uint32

	// Asset is the pegged asset being withdrawn.
	Asset gateway.AssetID

	// Applicant is the requesting host account.
	Applicant gateway.AccountID

	// Amount is the requested amount, fee included.
	Amount uint64

	// Address is the receiving address on the external chain.
	Address string

	// Memo is a free-form note carried with the request.
	Memo string

	// Height is the host height of the request.
	Height uint32

	// State is the record's position in the lifecycle.
	State State
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	byteOrder.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

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

// serializeRecord returns the serialization of a withdrawal record:
//
//	<asset><applicant><amount><addrLen><addr><memoLen><memo><height>
//	<state>
func serializeRecord(rec *Record) []byte {
	var buf bytes.Buffer
	buf.Write(uint32ToBytes(uint32(rec.Asset)))
	buf.Write(rec.Applicant[:])
	buf.Write(uint64ToBytes(rec.Amount))
	writeVarBytes(&buf, []byte(rec.Address))
	writeVarBytes(&buf, []byte(rec.Memo))
	buf.Write(uint32ToBytes(rec.Height))
	buf.WriteByte(byte(rec.State))
	return buf.Bytes()
}

func deserializeRecord(id uint32, serialized []byte) (*Record, error) {
	r := bytes.NewReader(serialized)
	rec := &Record{ID: id}

	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal asset", err)
	}
	rec.Asset = gateway.AssetID(byteOrder.Uint32(n[:]))
	if _, err := r.Read(rec.Applicant[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal applicant", err)
	}
	var a [8]byte
	if _, err := r.Read(a[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal amount", err)
	}
	rec.Amount = byteOrder.Uint64(a[:])
	addr, err := readVarBytes(r)
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal address", err)
	}
	rec.Address = string(addr)
	memo, err := readVarBytes(r)
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal memo", err)
	}
	rec.Memo = string(memo)
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal height", err)
	}
	rec.Height = byteOrder.Uint32(n[:])
	state, err := r.ReadByte()
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read withdrawal state", err)
	}
	rec.State = State(state)
	return rec, nil
}

func putRecord(ns walletdb.ReadWriteBucket, rec *Record) error {
	bucket := ns.NestedReadWriteBucket(recordsBucketName)
	err := bucket.Put(uint32ToBytes(rec.ID), serializeRecord(rec))
	if err != nil {
		return newError(ErrDatabase, "failed to store withdrawal record",
			err)
	}
	return nil
}

func fetchRecord(ns walletdb.ReadWriteBucket, id uint32) (*Record, error) {
	serialized := ns.NestedReadWriteBucket(recordsBucketName).
		Get(uint32ToBytes(id))
	if serialized == nil {
		str := fmt.Sprintf("withdrawal %d does not exist", id)
		return nil, newError(ErrRecordNotFound, str, nil)
	}
	return deserializeRecord(id, serialized)
}

// forEachRecord invokes f on every record in id order.
func forEachRecord(ns walletdb.ReadWriteBucket,
	f func(*Record) error) error {

	bucket := ns.NestedReadWriteBucket(recordsBucketName)
	return bucket.ForEach(func(k, v []byte) error {
		rec, err := deserializeRecord(byteOrder.Uint32(k), v)
		if err != nil {
			return err
		}
		return f(rec)
	})
}

func fetchNextID(ns walletdb.ReadWriteBucket) uint32 {
	serialized := ns.Get(nextIDKey)
	if serialized == nil {
		return 0
	}
	return byteOrder.Uint32(serialized)
}

func putNextID(ns walletdb.ReadWriteBucket, id uint32) error {
	if err := ns.Put(nextIDKey, uint32ToBytes(id)); err != nil {
		return newError(ErrDatabase, "failed to store withdrawal serial",
			err)
	}
	return nil
}

// lockedKey scopes a locked balance to an asset and account pair.
func lockedKey(asset gateway.AssetID, account gateway.AccountID) []byte {
	key := make([]byte, 4+gateway.AccountIDSize)
	byteOrder.PutUint32(key, uint32(asset))
	copy(key[4:], account[:])
	return key
}

func fetchLocked(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	account gateway.AccountID) uint64 {

	serialized := ns.NestedReadWriteBucket(lockedBucketName).
		Get(lockedKey(asset, account))
	if serialized == nil {
		return 0
	}
	return byteOrder.Uint64(serialized)
}

func putLocked(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	account gateway.AccountID, amount uint64) error {

	bucket := ns.NestedReadWriteBucket(lockedBucketName)
	key := lockedKey(asset, account)
	var err error
	if amount == 0 {
		err = bucket.Delete(key)
	} else {
		err = bucket.Put(key, uint64ToBytes(amount))
	}
	if err != nil {
		return newError(ErrDatabase, "failed to store locked balance", err)
	}
	return nil
}

func putAssetChain(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	chain gateway.Chain) error {

	bucket := ns.NestedReadWriteBucket(assetsBucketName)
	if err := bucket.Put(uint32ToBytes(uint32(asset)), chain.Key()); err != nil {
		return newError(ErrDatabase, "failed to store asset binding", err)
	}
	bucket = ns.NestedReadWriteBucket(chainAssetsBucket)
	err := bucket.Put(chain.Key(), uint32ToBytes(uint32(asset)))
	if err != nil {
		return newError(ErrDatabase, "failed to store chain binding", err)
	}
	return nil
}

func fetchAssetChain(ns walletdb.ReadWriteBucket,
	asset gateway.AssetID) (gateway.Chain, bool) {

	serialized := ns.NestedReadWriteBucket(assetsBucketName).
		Get(uint32ToBytes(uint32(asset)))
	if len(serialized) != 1 {
		return 0, false
	}
	return gateway.Chain(serialized[0]), true
}

func fetchChainAsset(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (gateway.AssetID, bool) {

	serialized := ns.NestedReadWriteBucket(chainAssetsBucket).Get(chain.Key())
	if serialized == nil {
		return 0, false
	}
	return gateway.AssetID(byteOrder.Uint32(serialized)), true
}

// ChainConfig is the per-chain withdrawal policy.
type ChainConfig struct {
	// MinWithdrawal is the smallest acceptable withdrawal amount, fee
	// included.
	MinWithdrawal uint64

	// Fee is deducted from each withdrawal before paying out.
	Fee uint64

	// MaxProposalSize caps how many withdrawals one proposal settles.
	MaxProposalSize uint32
}

func serializeChainConfig(cfg *ChainConfig) []byte {
	var buf bytes.Buffer
	buf.Write(uint64ToBytes(cfg.MinWithdrawal))
	buf.Write(uint64ToBytes(cfg.Fee))
	buf.Write(uint32ToBytes(cfg.MaxProposalSize))
	return buf.Bytes()
}

func deserializeChainConfig(serialized []byte) (*ChainConfig, error) {
	if len(serialized) != 20 {
		return nil, newError(ErrSerialization,
			"corrupt chain withdrawal config", nil)
	}
	return &ChainConfig{
		MinWithdrawal:   byteOrder.Uint64(serialized[0:8]),
		Fee:             byteOrder.Uint64(serialized[8:16]),
		MaxProposalSize: byteOrder.Uint32(serialized[16:20]),
	}, nil
}

func putChainConfig(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	cfg *ChainConfig) error {

	bucket := ns.NestedReadWriteBucket(configsBucketName)
	if err := bucket.Put(chain.Key(), serializeChainConfig(cfg)); err != nil {
		return newError(ErrDatabase, "failed to store withdrawal config",
			err)
	}
	return nil
}

func fetchChainConfig(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (*ChainConfig, error) {

	serialized := ns.NestedReadWriteBucket(configsBucketName).Get(chain.Key())
	if serialized == nil {
		str := fmt.Sprintf("no withdrawal config for chain %v", chain)
		return nil, newError(ErrUnsupportedChain, str, nil)
	}
	return deserializeChainConfig(serialized)
}

func putProposal(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	prop *Proposal) error {

	serialized, err := serializeProposal(prop)
	if err != nil {
		return err
	}
	bucket := ns.NestedReadWriteBucket(proposalsBucketName)
	if err := bucket.Put(chain.Key(), serialized); err != nil {
		return newError(ErrDatabase, "failed to store proposal", err)
	}
	return nil
}

func fetchProposal(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (*Proposal, error) {

	serialized := ns.NestedReadWriteBucket(proposalsBucketName).
		Get(chain.Key())
	if serialized == nil {
		str := fmt.Sprintf("no live withdrawal proposal for chain %v",
			chain)
		return nil, newError(ErrNoProposal, str, nil)
	}
	return deserializeProposal(serialized)
}

func existsProposal(ns walletdb.ReadWriteBucket, chain gateway.Chain) bool {
	return ns.NestedReadWriteBucket(proposalsBucketName).
		Get(chain.Key()) != nil
}

func deleteProposal(ns walletdb.ReadWriteBucket, chain gateway.Chain) error {
	bucket := ns.NestedReadWriteBucket(proposalsBucketName)
	if err := bucket.Delete(chain.Key()); err != nil {
		return newError(ErrDatabase, "failed to delete proposal", err)
	}
	return nil
}
