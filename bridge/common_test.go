// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bridge

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
	"github.com/pegbridge/pegbridge/withdraw"
)

const (
	testAsset      gateway.AssetID = 1
	testMinDeposit uint64          = 1000
	testPoolSize                   = 5
)

// testAccount builds a distinguishable host account id.
func testAccount(n byte) gateway.AccountID {
	var id gateway.AccountID
	for i := range id {
		id[i] = n
	}
	return id
}

// testKey derives a deterministic private key from a seed byte.
func testKey(n byte) *btcec.PrivateKey {
	var seed [32]byte
	for i := range seed {
		seed[i] = n
	}
	seed[31]++
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return priv
}

// staticMembers is a fixed, ranked member pool.
type staticMembers []gateway.AccountID

func (s staticMembers) Members() []gateway.AccountID { return s }

// flagVerifier is a proof verifier with a switchable verdict.
type flagVerifier struct {
	reject bool
}

func (v *flagVerifier) Verify(gateway.Chain, [32]byte, []byte) bool {
	return !v.reject
}

// testHarness is a bridge over the Dogecoin testnet with a pool of
// registered trustee candidates.  Trustee i uses testKey(i+11) as hot
// key and testKey(i+21) as cold key.
type testHarness struct {
	t        *testing.T
	bridge   *Bridge
	net      *netparams.Params
	ledger   *gateway.MemoryAssetLedger
	currency *gateway.MemoryCurrency
	events   *gateway.EventRecorder
	verifier *flagVerifier
	pool     staticMembers
	root     gateway.AccountID
	user     gateway.AccountID
}

func hotKey(i int) *btcec.PrivateKey  { return testKey(byte(i + 11)) }
func coldKey(i int) *btcec.PrivateKey { return testKey(byte(i + 21)) }

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "bridge.db"), true,
		10*time.Second,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	h := &testHarness{
		t:        t,
		net:      netparams.TestNetForChain(gateway.Dogecoin),
		ledger:   gateway.NewMemoryAssetLedger(),
		currency: gateway.NewMemoryCurrency(),
		events:   &gateway.EventRecorder{},
		verifier: &flagVerifier{},
		root:     testAccount(99),
		user:     testAccount(40),
	}
	for i := 0; i < testPoolSize; i++ {
		h.pool = append(h.pool, testAccount(byte(i+1)))
	}

	h.bridge, err = New(Config{
		DB: db,
		Nets: map[gateway.Chain]*netparams.Params{
			gateway.Dogecoin: h.net,
		},
		Assets: map[gateway.Chain]gateway.AssetID{
			gateway.Dogecoin: testAsset,
		},
		MinDeposits: map[gateway.Chain]uint64{
			gateway.Dogecoin: testMinDeposit,
		},
		Ledger:         h.ledger,
		Currency:       h.currency,
		Members:        h.pool,
		DesiredMembers: 4,
		Verifier:       h.verifier,
		Root:           h.root,
		Events:         h.events,
	})
	require.NoError(t, err)

	for i := 0; i < testPoolSize; i++ {
		require.NoError(t, h.bridge.SetupTrustee(
			h.pool[i], gateway.Dogecoin, nil, "trustee",
			hotKey(i).PubKey().SerializeCompressed(),
			coldKey(i).PubKey().SerializeCompressed(),
		))
	}
	return h
}

// bootstrap elects the first trustee session and configures the asset.
func (h *testHarness) bootstrap() {
	h.t.Helper()

	_, err := h.bridge.RotateTrustees(h.root, gateway.Dogecoin, nil, 10)
	require.NoError(h.t, err)
	require.NoError(h.t, h.bridge.RegisterAsset(
		h.root, testAsset, gateway.Dogecoin,
	))
	require.NoError(h.t, h.bridge.SetWithdrawalConfig(
		h.root, gateway.Dogecoin, &withdraw.ChainConfig{
			MinWithdrawal:   1000,
			Fee:             100,
			MaxProposalSize: 8,
		},
	))
}

func serializeTx(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes()
}

func payToAddrScript(t *testing.T, net *netparams.Params,
	address string) []byte {

	t.Helper()
	addr, err := btcutil.DecodeAddress(address, net.Params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

// depositTx builds a transaction paying value to the custody address,
// optionally carrying an OP_RETURN payload, funded by prevOut.
func depositTx(t *testing.T, net *netparams.Params, prevOut wire.OutPoint,
	custodyAddr string, value int64, payload []byte) *wire.MsgTx {

	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, payToAddrScript(t, net, custodyAddr)))
	if payload != nil {
		nullData, err := txscript.NullDataScript(payload)
		require.NoError(t, err)
		tx.AddTxOut(wire.NewTxOut(0, nullData))
	}
	return tx
}

// opReturnFor encodes the hex account payload a depositor would carry.
func opReturnFor(account gateway.AccountID) []byte {
	return []byte(hex.EncodeToString(account[:]))
}

// signMultisigInput fills in a P2SH multisig signature script signed by
// the given keys.
func signMultisigInput(t *testing.T, tx *wire.MsgTx, idx int,
	redeemScript []byte, keys ...*btcec.PrivateKey) {

	t.Helper()
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, key := range keys {
		sig, err := txscript.RawTxInSignature(
			tx, idx, redeemScript, txscript.SigHashAll, key,
		)
		require.NoError(t, err)
		builder.AddData(sig)
	}
	builder.AddData(redeemScript)
	script, err := builder.Script()
	require.NoError(t, err)
	tx.TxIn[idx].SignatureScript = script
}

// destAddr returns a P2PKH address a withdrawal can pay to.
func (h *testHarness) destAddr(seed byte) string {
	pubKeyHash := btcutil.Hash160(
		testKey(seed).PubKey().SerializeCompressed(),
	)
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, h.net.Params)
	require.NoError(h.t, err)
	return addr.EncodeAddress()
}

func outPoint(tx *wire.MsgTx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: index}
}

func fakeOutPoint(n byte) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.Hash{n}, Index: 0}
}
