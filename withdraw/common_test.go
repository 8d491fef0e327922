// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdraw

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
)

var testNamespaceKey = []byte("withdraw")

const testAsset gateway.AssetID = 2

var testNets = map[gateway.Chain]*netparams.Params{
	gateway.Bitcoin:  netparams.TestNetForChain(gateway.Bitcoin),
	gateway.Dogecoin: netparams.TestNetForChain(gateway.Dogecoin),
}

func openTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "withdraw.db"), true,
		10*time.Second,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(testNamespaceKey)
		if err != nil {
			return err
		}
		return Init(ns)
	})
	require.NoError(t, err)
	return db
}

func update(t *testing.T, db walletdb.DB,
	f func(ns walletdb.ReadWriteBucket) error) {

	t.Helper()
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(testNamespaceKey))
	})
	require.NoError(t, err)
}

func testAccount(n byte) gateway.AccountID {
	var id gateway.AccountID
	for i := range id {
		id[i] = n
	}
	return id
}

// testHarness bundles a withdrawal ledger and proposal builder with a
// funded in-memory asset ledger on the Dogecoin test network.
type testHarness struct {
	db      walletdb.DB
	ledger  *Ledger
	builder *Builder
	assets  *gateway.MemoryAssetLedger
	events  *gateway.EventRecorder

	// hotAddress and redeemScript describe a 2-of-3 custody script the
	// proposals spend from.
	hotAddress   string
	redeemScript []byte
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		db:     openTestDB(t),
		assets: gateway.NewMemoryAssetLedger(),
		events: &gateway.EventRecorder{},
	}
	h.ledger = NewLedger(LedgerConfig{
		Nets:   testNets,
		Ledger: h.assets,
		Events: h.events,
	})
	h.builder = NewBuilder(BuilderConfig{
		Nets:   testNets,
		Ledger: h.ledger,
		Events: h.events,
	})

	net := testNets[gateway.Dogecoin]
	var addrKeys []*btcutil.AddressPubKey
	for i := byte(1); i <= 3; i++ {
		var seed [32]byte
		for j := range seed {
			seed[j] = i
		}
		priv, _ := btcec.PrivKeyFromBytes(seed[:])
		addrKey, err := btcutil.NewAddressPubKey(
			priv.PubKey().SerializeCompressed(), net.Params,
		)
		require.NoError(t, err)
		addrKeys = append(addrKeys, addrKey)
	}
	redeem, err := txscript.MultiSigScript(addrKeys, 2)
	require.NoError(t, err)
	hotAddr, err := btcutil.NewAddressScriptHash(redeem, net.Params)
	require.NoError(t, err)
	h.redeemScript = redeem
	h.hotAddress = hotAddr.EncodeAddress()

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		err := h.ledger.RegisterAsset(ns, testAsset, gateway.Dogecoin)
		require.NoError(t, err)
		return h.ledger.SetChainConfig(ns, gateway.Dogecoin, &ChainConfig{
			MinWithdrawal:   1000,
			Fee:             100,
			MaxProposalSize: 8,
		})
	})
	return h
}

// destAddr builds a distinguishable P2SH receiving address.
func destAddr(t *testing.T, seed byte) string {
	t.Helper()
	script := []byte{txscript.OP_DATA_1, seed, txscript.OP_DROP,
		txscript.OP_TRUE}
	addr, err := btcutil.NewAddressScriptHash(
		script, testNets[gateway.Dogecoin].Params,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}
