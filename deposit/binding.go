// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package deposit

import (
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// BindingStore exposes the deposit namespace's address bindings through
// the gateway.AddressBinding contract, wrapping each call in its own
// database transaction.  Collaborators outside the bridge's update
// cycle use it; the bridge itself binds through Processor.BindAddress
// so parked deposits drain in the same transaction.
type BindingStore struct {
	db           walletdb.DB
	namespaceKey []byte
}

// Enforce that BindingStore satisfies the gateway.AddressBinding
// interface.
var _ gateway.AddressBinding = (*BindingStore)(nil)

// NewBindingStore creates an address binding view over the deposit
// namespace identified by namespaceKey.
func NewBindingStore(db walletdb.DB, namespaceKey []byte) *BindingStore {
	return &BindingStore{db: db, namespaceKey: namespaceKey}
}

// Bind implements the gateway.AddressBinding interface.
func (s *BindingStore) Bind(chain gateway.Chain, addr string,
	account gateway.AccountID) error {

	if addr == "" {
		return newError(ErrInvalidAddress,
			"cannot bind an empty address", nil)
	}
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(s.namespaceKey)
		if ns == nil {
			return newError(ErrDatabase,
				"deposit namespace does not exist", nil)
		}
		return putBinding(ns, chain, addr, account)
	})
}

// Lookup implements the gateway.AddressBinding interface.
func (s *BindingStore) Lookup(chain gateway.Chain,
	addr string) (gateway.AccountID, bool) {

	var (
		account gateway.AccountID
		ok      bool
	)
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(s.namespaceKey)
		if ns == nil {
			return newError(ErrDatabase,
				"deposit namespace does not exist", nil)
		}
		account, ok = fetchBinding(ns, chain, addr)
		return nil
	})
	if err != nil {
		return account, false
	}
	return account, ok
}
