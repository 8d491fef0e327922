// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
)

const (
	// minCustodyKeys is the minimum number of trustee keys backing a
	// custody address.
	minCustodyKeys = 3

	// maxCustodyKeys is the maximum number of trustee keys backing a
	// custody address.  The bound keeps the redeem script within the
	// 520 byte push limit when it is revealed on spend.
	maxCustodyKeys = 15
)

// custodyAccountTag is the domain separation tag for host custody
// account derivation.
var custodyAccountTag = []byte("pegbridge/custody/v1")

// CustodyInfo is the result of deriving the custody addresses of one
// trustee session on one chain.
type CustodyInfo struct {
	// HotAddress is the hot custody address receiving deposits.
	HotAddress string

	// ColdAddress is the cold custody address holding reserves.
	ColdAddress string

	// HotRedeemScript is the multisig redeem script behind HotAddress.
	HotRedeemScript []byte

	// ColdRedeemScript is the multisig redeem script behind
	// ColdAddress.
	ColdRedeemScript []byte
}

// SignerEntry associates one hot custody public key with the trustee
// account controlling it.
type SignerEntry struct {
	// PubKey is the compressed hot public key.
	PubKey []byte

	// Account is the trustee's host account.
	Account gateway.AccountID
}

// ScriptMeta is the custody script metadata retained with a session so
// spends can later be attributed to the trustees that signed them.
type ScriptMeta struct {
	// Threshold is the number of signatures required to spend.
	Threshold uint32

	// Signers maps each hot public key composing the custody script to
	// its trustee account.
	Signers []SignerEntry
}

// signerEntrySize is the serialized size of one SignerEntry: a 33 byte
// compressed public key followed by the 32 byte account.
const signerEntrySize = 33 + gateway.AccountIDSize

const (
	typeMetaThreshold tlv.Type = 1
	typeMetaSigners   tlv.Type = 2
)

func signersEncoder(w io.Writer, val interface{}, _ *[8]byte) error {
	if v, ok := val.(*[]SignerEntry); ok {
		for _, entry := range *v {
			if len(entry.PubKey) != 33 {
				return fmt.Errorf("signer pubkey must be 33 bytes, "+
					"got %d", len(entry.PubKey))
			}
			if _, err := w.Write(entry.PubKey); err != nil {
				return err
			}
			if _, err := w.Write(entry.Account[:]); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]SignerEntry")
}

func signersDecoder(r io.Reader, val interface{}, _ *[8]byte,
	l uint64) error {

	if v, ok := val.(*[]SignerEntry); ok {
		if l%signerEntrySize != 0 {
			return tlv.NewTypeForDecodingErr(val, "[]SignerEntry", l,
				signerEntrySize)
		}
		entries := make([]SignerEntry, 0, l/signerEntrySize)
		for read := uint64(0); read < l; read += signerEntrySize {
			var raw [signerEntrySize]byte
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return err
			}
			entry := SignerEntry{
				PubKey: append([]byte(nil), raw[:33]...),
			}
			copy(entry.Account[:], raw[33:])
			entries = append(entries, entry)
		}
		*v = entries
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]SignerEntry", l,
		signerEntrySize)
}

// Encode returns the tlv stream serialization of the metadata.
func (m *ScriptMeta) Encode() ([]byte, error) {
	signers := m.Signers
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMetaThreshold, &m.Threshold),
		tlv.MakeDynamicRecord(
			typeMetaSigners, &signers, func() uint64 {
				return uint64(len(signers)) * signerEntrySize
			}, signersEncoder, signersDecoder,
		),
	)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeScriptMeta parses tlv-encoded custody script metadata.
func DecodeScriptMeta(serialized []byte) (*ScriptMeta, error) {
	var meta ScriptMeta
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMetaThreshold, &meta.Threshold),
		tlv.MakeDynamicRecord(
			typeMetaSigners, &meta.Signers, nil,
			signersEncoder, signersDecoder,
		),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(serialized)); err != nil {
		return nil, newError(ErrSerialization,
			"failed to decode script metadata", err)
	}
	return &meta, nil
}

// SigThreshold returns the required signature count for a custody set
// of the given size: the smallest m with m >= 2n/3.
func SigThreshold(n int) int {
	return (2*n + 2) / 3
}

// multiSigScript builds the m-of-n CHECKMULTISIG redeem script for the
// given compressed keys.  Keys are sorted by their serialization first
// so every node derives the same script whatever order the trustees
// were elected in.
func multiSigScript(net *netparams.Params, keys []*btcec.PublicKey,
	threshold int) ([]byte, error) {

	sorted := make([]*btcec.PublicKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SerializeCompressed(),
			sorted[j].SerializeCompressed()) < 0
	})

	addrKeys := make([]*btcutil.AddressPubKey, len(sorted))
	for i, key := range sorted {
		var err error
		addrKeys[i], err = btcutil.NewAddressPubKey(
			key.SerializeCompressed(), net.Params,
		)
		if err != nil {
			return nil, newError(ErrScriptCreation,
				"failed to build address pubkey", err)
		}
	}
	script, err := txscript.MultiSigScript(addrKeys, threshold)
	if err != nil {
		return nil, newError(ErrScriptCreation,
			"failed to build multisig script", err)
	}
	return script, nil
}

// deriveAddress commits the redeem script to a chain-appropriate
// custody address.  Bitcoin custody uses P2WSH; Dogecoin custody uses
// legacy P2SH.  The two constructions are deliberately independent:
// neither chain's derivation is reused for the other.
func deriveAddress(net *netparams.Params, redeemScript []byte) (string,
	error) {

	var (
		addr btcutil.Address
		err  error
	)
	switch net.Chain {
	case gateway.Bitcoin:
		scriptHash := sha256.Sum256(redeemScript)
		addr, err = btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], net.Params,
		)
	case gateway.Dogecoin:
		addr, err = btcutil.NewAddressScriptHash(redeemScript, net.Params)
	default:
		return "", newError(ErrUnsupportedChain,
			fmt.Sprintf("no custody derivation for chain %v", net.Chain),
			nil)
	}
	if err != nil {
		return "", newError(ErrScriptCreation,
			"failed to build custody address", err)
	}
	return addr.EncodeAddress(), nil
}

// DeriveCustody deterministically derives the hot and cold custody
// addresses for a trustee key set.  The derivation is a pure function
// of the network, the key set and the threshold, so independent nodes
// reproduce identical addresses.
func DeriveCustody(net *netparams.Params, hotKeys,
	coldKeys []*btcec.PublicKey, threshold int) (*CustodyInfo, error) {

	if len(hotKeys) != len(coldKeys) {
		str := fmt.Sprintf("hot/cold key count mismatch: %d vs %d",
			len(hotKeys), len(coldKeys))
		return nil, newError(ErrScriptCreation, str, nil)
	}
	if len(hotKeys) < minCustodyKeys || len(hotKeys) > maxCustodyKeys {
		str := fmt.Sprintf("custody requires %d to %d keys, got %d",
			minCustodyKeys, maxCustodyKeys, len(hotKeys))
		return nil, newError(ErrScriptCreation, str, nil)
	}
	if threshold < 1 || threshold > len(hotKeys) {
		str := fmt.Sprintf("invalid threshold %d for %d keys", threshold,
			len(hotKeys))
		return nil, newError(ErrScriptCreation, str, nil)
	}

	hotScript, err := multiSigScript(net, hotKeys, threshold)
	if err != nil {
		return nil, err
	}
	coldScript, err := multiSigScript(net, coldKeys, threshold)
	if err != nil {
		return nil, err
	}
	hotAddr, err := deriveAddress(net, hotScript)
	if err != nil {
		return nil, err
	}
	coldAddr, err := deriveAddress(net, coldScript)
	if err != nil {
		return nil, err
	}
	return &CustodyInfo{
		HotAddress:       hotAddr,
		ColdAddress:      coldAddr,
		HotRedeemScript:  hotScript,
		ColdRedeemScript: coldScript,
	}, nil
}

// DeriveCustodyAccount derives the host ledger account jointly owned by
// the trustee set.  It is a pure, order-sensitive function of the
// trustee accounts (proxies included) and the threshold.
func DeriveCustodyAccount(accounts []gateway.AccountID,
	threshold uint32) gateway.AccountID {

	h := sha256.New()
	h.Write(custodyAccountTag)
	h.Write(uint32ToBytes(threshold))
	for _, account := range accounts {
		h.Write(account[:])
	}
	var custody gateway.AccountID
	copy(custody[:], h.Sum(nil))
	return custody
}
