// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
)

func TestRecordSignaturesDogecoin(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		info, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)
		redeem := info.HotRedeemScript

		// Build a spend of the hot custody address signed by trustees
		// 1 and 3.
		tx := wire.NewMsgTx(wire.TxVersion)
		prevHash := chainhash.Hash{1}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
		tx.AddTxOut(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))

		sig1, err := txscript.RawTxInSignature(
			tx, 0, redeem, txscript.SigHashAll, testKey(1),
		)
		require.NoError(t, err)
		sig3, err := txscript.RawTxInSignature(
			tx, 0, redeem, txscript.SigHashAll, testKey(3),
		)
		require.NoError(t, err)
		scriptSig, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(sig1).AddData(sig3).
			AddData(redeem).Script()
		require.NoError(t, err)
		tx.TxIn[0].SignatureScript = scriptSig

		signers, err := h.mgr.RecordSignatures(
			ns, gateway.Dogecoin, tx, nil, 50,
		)
		require.NoError(t, err)
		require.Equal(t, []gateway.AccountID{h.pool[0], h.pool[2]}, signers)

		rec, err := h.mgr.SigRecord(ns, gateway.Dogecoin, h.pool[0])
		require.NoError(t, err)
		require.Equal(t, uint64(50), rec)
		rec, err = h.mgr.SigRecord(ns, gateway.Dogecoin, h.pool[1])
		require.NoError(t, err)
		require.Zero(t, rec)

		// Weight accumulates across spends.
		_, err = h.mgr.RecordSignatures(ns, gateway.Dogecoin, tx, nil, 25)
		require.NoError(t, err)
		rec, err = h.mgr.SigRecord(ns, gateway.Dogecoin, h.pool[2])
		require.NoError(t, err)
		require.Equal(t, uint64(75), rec)
		return nil
	})
}

// TestRecordSignaturesIgnoresForeignInputs checks that spends not
// touching the custody script earn no weight.
func TestRecordSignaturesIgnoresForeignInputs(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)

		tx := wire.NewMsgTx(wire.TxVersion)
		prevHash := chainhash.Hash{9}
		scriptSig, err := txscript.NewScriptBuilder().
			AddData([]byte("not a custody spend")).Script()
		require.NoError(t, err)
		tx.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(&prevHash, 0), scriptSig, nil,
		))
		tx.AddTxOut(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))

		signers, err := h.mgr.RecordSignatures(
			ns, gateway.Dogecoin, tx, nil, 50,
		)
		require.NoError(t, err)
		require.Empty(t, signers)
		return nil
	})
}

func TestRecordSignaturesBitcoin(t *testing.T) {
	h := newTestHarness(t, gateway.Bitcoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		info, err := h.mgr.Rotate(ns, gateway.Bitcoin, nil, 100)
		require.NoError(t, err)
		redeem := info.HotRedeemScript

		scriptHash := sha256.Sum256(redeem)
		pkScript, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(scriptHash[:]).Script()
		require.NoError(t, err)

		prevOut := wire.OutPoint{Hash: chainhash.Hash{2}, Index: 1}
		prevOuts := map[wire.OutPoint]*wire.TxOut{
			prevOut: wire.NewTxOut(100000, pkScript),
		}

		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
		tx.AddTxOut(wire.NewTxOut(90000, []byte{txscript.OP_TRUE}))

		fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
		hashes := txscript.NewTxSigHashes(tx, fetcher)
		sig2, err := txscript.RawTxInWitnessSignature(
			tx, hashes, 0, 100000, redeem, txscript.SigHashAll,
			testKey(2),
		)
		require.NoError(t, err)
		sig4, err := txscript.RawTxInWitnessSignature(
			tx, hashes, 0, 100000, redeem, txscript.SigHashAll,
			testKey(4),
		)
		require.NoError(t, err)
		tx.TxIn[0].Witness = wire.TxWitness{nil, sig2, sig4, redeem}

		signers, err := h.mgr.RecordSignatures(
			ns, gateway.Bitcoin, tx, prevOuts, 75,
		)
		require.NoError(t, err)
		require.Equal(t, []gateway.AccountID{h.pool[1], h.pool[3]}, signers)

		rec, err := h.mgr.SigRecord(ns, gateway.Bitcoin, h.pool[3])
		require.NoError(t, err)
		require.Equal(t, uint64(75), rec)

		// Without the previous output the witness signature hash
		// cannot be formed, so the input is skipped.
		signers, err = h.mgr.RecordSignatures(
			ns, gateway.Bitcoin, tx, nil, 75,
		)
		require.NoError(t, err)
		require.Empty(t, signers)
		return nil
	})
}
