// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import "fmt"

type assetKey struct {
	asset   AssetID
	account AccountID
}

// MemoryAssetLedger is an in-memory AssetLedger used by tests and
// offline tooling.  It is not safe for concurrent use.
type MemoryAssetLedger struct {
	balances map[assetKey]uint64
	supply   map[AssetID]uint64
}

// NewMemoryAssetLedger returns an empty in-memory asset ledger.
func NewMemoryAssetLedger() *MemoryAssetLedger {
	return &MemoryAssetLedger{
		balances: make(map[assetKey]uint64),
		supply:   make(map[AssetID]uint64),
	}
}

// Mint implements the AssetLedger interface.
func (l *MemoryAssetLedger) Mint(asset AssetID, account AccountID,
	amount uint64) error {

	l.balances[assetKey{asset, account}] += amount
	l.supply[asset] += amount
	return nil
}

// Burn implements the AssetLedger interface.
func (l *MemoryAssetLedger) Burn(asset AssetID, account AccountID,
	amount uint64) error {

	key := assetKey{asset, account}
	if l.balances[key] < amount {
		return fmt.Errorf("burn %d exceeds balance %d of account %v",
			amount, l.balances[key], account)
	}
	l.balances[key] -= amount
	l.supply[asset] -= amount
	return nil
}

// Transfer implements the AssetLedger interface.
func (l *MemoryAssetLedger) Transfer(asset AssetID, from, to AccountID,
	amount uint64) error {

	fromKey := assetKey{asset, from}
	if l.balances[fromKey] < amount {
		return fmt.Errorf("transfer %d exceeds balance %d of account %v",
			amount, l.balances[fromKey], from)
	}
	l.balances[fromKey] -= amount
	l.balances[assetKey{asset, to}] += amount
	return nil
}

// Balance implements the AssetLedger interface.
func (l *MemoryAssetLedger) Balance(asset AssetID, account AccountID) uint64 {
	return l.balances[assetKey{asset, account}]
}

// TotalSupply implements the AssetLedger interface.
func (l *MemoryAssetLedger) TotalSupply(asset AssetID) uint64 {
	return l.supply[asset]
}

// MemoryCurrency is an in-memory Currency used by tests and offline
// tooling.  It is not safe for concurrent use.
type MemoryCurrency struct {
	balances map[AccountID]uint64
}

// NewMemoryCurrency returns an in-memory native currency ledger.
func NewMemoryCurrency() *MemoryCurrency {
	return &MemoryCurrency{balances: make(map[AccountID]uint64)}
}

// Deposit credits amount to the account, creating it if necessary.
func (c *MemoryCurrency) Deposit(account AccountID, amount uint64) {
	c.balances[account] += amount
}

// Transfer implements the Currency interface.
func (c *MemoryCurrency) Transfer(from, to AccountID, amount uint64) error {
	if c.balances[from] < amount {
		return fmt.Errorf("transfer %d exceeds balance %d of account %v",
			amount, c.balances[from], from)
	}
	c.balances[from] -= amount
	c.balances[to] += amount
	return nil
}

// Balance implements the Currency interface.
func (c *MemoryCurrency) Balance(account AccountID) uint64 {
	return c.balances[account]
}
