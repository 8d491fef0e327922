// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// SigRecordedEvent is recorded when signing weight is credited to
// trustees for a confirmed custody spend.
type SigRecordedEvent struct {
	Chain   gateway.Chain
	Signers []gateway.AccountID
	Weight  uint64
}

// minSigPushLen separates signature pushes from the empty push consumed
// by the off-by-one bug of OP_CHECKMULTISIG.
const minSigPushLen = 9

// inputSigners recovers the trustee accounts whose signatures authorize
// one input of a custody spend.  Attribution is by real signature
// verification: each candidate signature is checked against every hot
// key of the session over the input's signature hash.
func inputSigners(cb walletdb.ReadWriteBucket, chain gateway.Chain,
	session *SessionInfo, tx *wire.MsgTx, idx int,
	prevOuts map[wire.OutPoint]*wire.TxOut,
	hotKeys []*btcec.PublicKey) ([]gateway.AccountID, error) {

	var (
		sigs    [][]byte
		sigHash []byte
	)
	switch chain {
	case gateway.Dogecoin:
		// Legacy P2SH spend: the scriptSig pushes are the signatures
		// followed by the revealed redeem script.
		pushes, err := txscript.PushedData(tx.TxIn[idx].SignatureScript)
		if err != nil || len(pushes) < 2 {
			return nil, nil
		}
		redeem := pushes[len(pushes)-1]
		if !bytes.Equal(redeem, session.HotRedeemScript) {
			return nil, nil
		}
		for _, push := range pushes[:len(pushes)-1] {
			if len(push) >= minSigPushLen {
				sigs = append(sigs, push)
			}
		}
		if len(sigs) == 0 {
			return nil, nil
		}
		hashType := txscript.SigHashType(sigs[0][len(sigs[0])-1])
		sigHash, err = txscript.CalcSignatureHash(redeem, hashType, tx, idx)
		if err != nil {
			return nil, err
		}

	case gateway.Bitcoin:
		// P2WSH spend: the witness stack carries the signatures and
		// the witness script.  The witness signature hash commits to
		// the input value, so attribution needs the previous output.
		witness := tx.TxIn[idx].Witness
		if len(witness) < 2 {
			return nil, nil
		}
		redeem := witness[len(witness)-1]
		scriptHash := sha256.Sum256(redeem)
		hotHash := sha256.Sum256(session.HotRedeemScript)
		if scriptHash != hotHash {
			return nil, nil
		}
		prevOut, ok := prevOuts[tx.TxIn[idx].PreviousOutPoint]
		if !ok {
			return nil, nil
		}
		for _, item := range witness[:len(witness)-1] {
			if len(item) >= minSigPushLen {
				sigs = append(sigs, item)
			}
		}
		if len(sigs) == 0 {
			return nil, nil
		}
		hashType := txscript.SigHashType(sigs[0][len(sigs[0])-1])
		fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
		hashes := txscript.NewTxSigHashes(tx, fetcher)
		var err error
		sigHash, err = txscript.CalcWitnessSigHash(
			redeem, hashes, hashType, tx, idx, prevOut.Value,
		)
		if err != nil {
			return nil, err
		}

	default:
		str := "no signature attribution for chain " + chain.String()
		return nil, newError(ErrUnsupportedChain, str, nil)
	}

	var signers []gateway.AccountID
	for _, sig := range sigs {
		parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
		if err != nil {
			continue
		}
		for _, key := range hotKeys {
			if !parsed.Verify(sigHash, key) {
				continue
			}
			account, ok := fetchHotKeyAccount(
				cb, key.SerializeCompressed(),
			)
			if ok {
				signers = append(signers, account)
			}
			break
		}
	}
	return signers, nil
}

// RecordSignatures attributes a confirmed spend from the live session's
// hot custody address to the trustees that signed it and credits each
// signer's record with the settled weight.  Inputs that do not spend
// the hot custody script are ignored.  The prevOuts map supplies the
// previous outputs referenced by the spend; Bitcoin inputs without a
// known previous output cannot be attributed and are skipped.
func (m *SessionManager) RecordSignatures(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, tx *wire.MsgTx,
	prevOuts map[wire.OutPoint]*wire.TxOut,
	weight uint64) ([]gateway.AccountID, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	count := fetchSessionCount(cb)
	if count == 0 {
		return nil, newError(ErrSessionNotExists,
			"no trustee session has been created", nil)
	}
	session, err := fetchSessionInfo(cb, count-1)
	if err != nil {
		return nil, err
	}
	meta, err := DecodeScriptMeta(session.ScriptMeta)
	if err != nil {
		return nil, err
	}
	hotKeys := make([]*btcec.PublicKey, 0, len(meta.Signers))
	for _, signer := range meta.Signers {
		key, err := btcec.ParsePubKey(signer.PubKey)
		if err != nil {
			return nil, newError(ErrInvalidPublicKey,
				"stored signer key does not parse", err)
		}
		hotKeys = append(hotKeys, key)
	}

	seen := make(map[gateway.AccountID]struct{})
	var signers []gateway.AccountID
	for idx := range tx.TxIn {
		accounts, err := inputSigners(
			cb, chain, session, tx, idx, prevOuts, hotKeys,
		)
		if err != nil {
			return nil, err
		}
		for _, account := range accounts {
			if _, ok := seen[account]; ok {
				continue
			}
			seen[account] = struct{}{}
			signers = append(signers, account)
		}
	}
	if len(signers) == 0 {
		return nil, nil
	}

	for _, account := range signers {
		record := fetchSigRecord(cb, account)
		if err := putSigRecord(cb, account, record+weight); err != nil {
			return nil, err
		}
	}

	log.Debugf("Chain %v spend %v signed by %d trustees, weight %d each",
		chain, tx.TxHash(), len(signers), weight)
	m.cfg.Events.Record(SigRecordedEvent{
		Chain: chain, Signers: signers, Weight: weight,
	})
	return signers, nil
}

// SigRecord returns the accumulated signing weight of a trustee in the
// live session.
func (m *SessionManager) SigRecord(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, account gateway.AccountID) (uint64, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return 0, err
	}
	return fetchSigRecord(cb, account), nil
}
