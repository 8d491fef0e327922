// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
)

var testNamespaceKey = []byte("trustee")

// openTestDB creates a temporary walletdb database with an initialized
// trustee namespace for both chains.
func openTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "trustee.db"), true,
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
		return Init(ns, gateway.Bitcoin, gateway.Dogecoin)
	})
	require.NoError(t, err)
	return db
}

// update runs f inside a read-write transaction rooted at the trustee
// namespace and requires it to succeed.
func update(t *testing.T, db walletdb.DB,
	f func(ns walletdb.ReadWriteBucket) error) {

	t.Helper()
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(testNamespaceKey))
	})
	require.NoError(t, err)
}

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

// testHarness bundles a session manager with its collaborators for
// session and reward tests.
type testHarness struct {
	db       walletdb.DB
	mgr      *SessionManager
	ledger   *gateway.MemoryAssetLedger
	currency *gateway.MemoryCurrency
	events   *gateway.EventRecorder
	pool     staticMembers
}

const (
	testAsset     gateway.AssetID = 1
	testDogeAsset gateway.AssetID = 2
)

// newTestHarness registers poolSize trustees for the chain and returns
// a manager whose member pool ranks them in account order.  Trustee i
// uses testKey(i) as hot key and testKey(100+i) as cold key.
func newTestHarness(t *testing.T, chain gateway.Chain,
	poolSize int) *testHarness {

	t.Helper()

	h := &testHarness{
		db:       openTestDB(t),
		ledger:   gateway.NewMemoryAssetLedger(),
		currency: gateway.NewMemoryCurrency(),
		events:   &gateway.EventRecorder{},
	}
	for i := 0; i < poolSize; i++ {
		h.pool = append(h.pool, testAccount(byte(i+1)))
	}
	h.mgr = NewSessionManager(SessionManagerConfig{
		Nets: map[gateway.Chain]*netparams.Params{
			gateway.Bitcoin:  netparams.TestNetForChain(gateway.Bitcoin),
			gateway.Dogecoin: netparams.TestNetForChain(gateway.Dogecoin),
		},
		Registry:       NewRegistry(h.events),
		Members:        h.pool,
		DesiredMembers: 4,
		Ledger:         h.ledger,
		Assets: map[gateway.Chain]gateway.AssetID{
			gateway.Bitcoin:  testAsset,
			gateway.Dogecoin: testDogeAsset,
		},
		Events: h.events,
	})

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		for i := 0; i < poolSize; i++ {
			hot := testKey(byte(i + 1)).PubKey().SerializeCompressed()
			cold := testKey(byte(101 + i)).PubKey().SerializeCompressed()
			err := h.mgr.SetupTrustee(
				ns, chain, h.pool[i], nil, "", hot, cold,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return h
}
