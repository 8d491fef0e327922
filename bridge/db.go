// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bridge

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// Top level namespaces of the bridge database.  Each component package
// owns one namespace; a single database transaction spans all of them
// so every external call commits or rolls back as a whole.
var (
	bridgeNamespaceKey   = []byte("bridge")
	trusteeNamespaceKey  = []byte("trustee")
	withdrawNamespaceKey = []byte("withdraw")
	depositNamespaceKey  = []byte("deposit")

	processedBucketName = []byte("processed")
)

var byteOrder = binary.BigEndian

// namespaces is the set of per-component buckets of one database
// transaction.
type namespaces struct {
	bridge   walletdb.ReadWriteBucket
	trustee  walletdb.ReadWriteBucket
	withdraw walletdb.ReadWriteBucket
	deposit  walletdb.ReadWriteBucket
}

func openNamespaces(tx walletdb.ReadWriteTx) (*namespaces, error) {
	ns := &namespaces{
		bridge:   tx.ReadWriteBucket(bridgeNamespaceKey),
		trustee:  tx.ReadWriteBucket(trusteeNamespaceKey),
		withdraw: tx.ReadWriteBucket(withdrawNamespaceKey),
		deposit:  tx.ReadWriteBucket(depositNamespaceKey),
	}
	if ns.bridge == nil || ns.trustee == nil || ns.withdraw == nil ||
		ns.deposit == nil {

		return nil, newError(ErrDatabase,
			"bridge database is not initialized", nil)
	}
	return ns, nil
}

func processedKey(chain gateway.Chain, txid chainhash.Hash) []byte {
	key := make([]byte, 0, 1+chainhash.HashSize)
	key = append(key, chain.Key()...)
	return append(key, txid[:]...)
}

// markProcessed records the txid in the replay set together with the
// height it confirmed at.
func markProcessed(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	txid chainhash.Hash, height uint32) error {

	var value [4]byte
	byteOrder.PutUint32(value[:], height)
	err := ns.NestedReadWriteBucket(processedBucketName).
		Put(processedKey(chain, txid), value[:])
	if err != nil {
		return newError(ErrDatabase,
			"failed to mark transaction processed", err)
	}
	return nil
}

func isProcessed(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	txid chainhash.Hash) bool {

	return ns.NestedReadWriteBucket(processedBucketName).
		Get(processedKey(chain, txid)) != nil
}
