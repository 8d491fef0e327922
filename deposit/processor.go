// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package deposit credits confirmed custody deposits to host accounts.
// A deposit identifies its beneficiary either through an OP_RETURN
// payload or through a previously established address binding; deposits
// that identify neither are parked under their input address until the
// address is claimed.
package deposit

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// Result reports the outcome of processing one classified deposit.
type Result uint8

const (
	// ResultCredited means the deposit minted to a resolved account.
	ResultCredited Result = iota

	// ResultPending means no account resolved and the deposit was
	// parked under its input address.
	ResultPending

	// ResultFailure means neither an account nor an input address was
	// available.  Nothing was written; the deposit may be resubmitted
	// with a previous transaction that exposes the input address.
	ResultFailure
)

// String returns the Result as a human-readable name.
func (r Result) String() string {
	switch r {
	case ResultCredited:
		return "Credited"
	case ResultPending:
		return "Pending"
	case ResultFailure:
		return "Failure"
	default:
		return fmt.Sprintf("Unknown Result (%d)", uint8(r))
	}
}

// Info describes one confirmed deposit to the hot custody address,
// extracted from a classified transaction.
type Info struct {
	// Chain is the external chain the deposit confirmed on.
	Chain gateway.Chain

	// TxID is the depositing transaction's hash.
	TxID chainhash.Hash

	// Value is the amount paid to the hot custody address.
	Value uint64

	// OpReturn is the raw OP_RETURN payload, if any.
	OpReturn []byte

	// InputAddr is the address of the deposit's first input, if the
	// previous transaction was supplied.
	InputAddr string
}

// DepositedEvent is recorded when a deposit mints to an account.
type DepositedEvent struct {
	Chain   gateway.Chain
	TxID    chainhash.Hash
	Asset   gateway.AssetID
	Account gateway.AccountID
	Value   uint64
}

// UnclaimedDepositEvent is recorded when a deposit is parked under its
// input address.
type UnclaimedDepositEvent struct {
	Chain   gateway.Chain
	TxID    chainhash.Hash
	Address string
	Value   uint64
}

// PendingDrainedEvent is recorded when binding an address releases its
// parked deposits to the bound account.
type PendingDrainedEvent struct {
	Chain   gateway.Chain
	Address string
	Account gateway.AccountID
	Count   int
	Total   uint64
}

// AddressBoundEvent is recorded when an external address is bound to a
// host account.
type AddressBoundEvent struct {
	Chain   gateway.Chain
	Address string
	Account gateway.AccountID
}

// ReferralBoundEvent is recorded the first time an account gains a
// referral.
type ReferralBoundEvent struct {
	Account  gateway.AccountID
	Referral gateway.AccountID
}

// ProcessorConfig bundles the dependencies of a deposit processor.
type ProcessorConfig struct {
	// Ledger mints the pegged assets.
	Ledger gateway.AssetLedger

	// Assets maps each bridged chain to its pegged asset.
	Assets map[gateway.Chain]gateway.AssetID

	// Extractor decodes accounts from OP_RETURN payloads.
	Extractor gateway.AccountExtractor

	// Events receives domain events.  Nil discards them.
	Events gateway.EventSink
}

// Processor applies classified deposits to the host ledger and
// maintains the address and referral bindings they establish.
type Processor struct {
	cfg ProcessorConfig
}

// NewProcessor creates a deposit processor from the given config.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Events == nil {
		cfg.Events = gateway.DiscardEvents
	}
	return &Processor{cfg: cfg}
}

// Process applies one classified deposit.  The beneficiary account is
// taken from the OP_RETURN payload when one decodes, else from the
// input address's existing binding.  A resolved deposit mints, binds
// the input address for future deposits, records the referral and
// drains any deposits parked under that address.  An unresolved deposit
// with a known input address parks; one with neither writes nothing and
// reports Failure.
func (p *Processor) Process(ns walletdb.ReadWriteBucket,
	info *Info) (Result, error) {

	asset, ok := p.cfg.Assets[info.Chain]
	if !ok {
		str := fmt.Sprintf("chain %v has no pegged asset", info.Chain)
		return ResultFailure, newError(ErrAssetNotRegistered, str, nil)
	}

	var (
		account  gateway.AccountID
		referral *gateway.AccountID
		resolved bool
	)
	if len(info.OpReturn) > 0 {
		account, referral, resolved = p.cfg.Extractor.Extract(info.OpReturn)
		if !resolved {
			log.Warnf("Chain %v deposit %v carries an undecodable "+
				"payload", info.Chain, info.TxID)
		}
	}
	if !resolved && info.InputAddr != "" {
		account, resolved = fetchBinding(ns, info.Chain, info.InputAddr)
	}

	if !resolved {
		if info.InputAddr == "" {
			log.Warnf("Chain %v deposit %v names no account and exposes "+
				"no input address", info.Chain, info.TxID)
			return ResultFailure, nil
		}

		added, err := appendPending(ns, info.Chain, info.InputAddr,
			PendingDeposit{TxID: info.TxID, Value: info.Value})
		if err != nil {
			return ResultFailure, err
		}
		if added {
			log.Infof("Chain %v deposit %v of %d parked under %s",
				info.Chain, info.TxID, info.Value, info.InputAddr)
			p.cfg.Events.Record(UnclaimedDepositEvent{
				Chain:   info.Chain,
				TxID:    info.TxID,
				Address: info.InputAddr,
				Value:   info.Value,
			})
		}
		return ResultPending, nil
	}

	if err := p.cfg.Ledger.Mint(asset, account, info.Value); err != nil {
		return ResultFailure, newError(ErrMint,
			"host ledger refused the deposit mint", err)
	}
	log.Infof("Chain %v deposit %v credited %d of asset %d", info.Chain,
		info.TxID, info.Value, asset)
	p.cfg.Events.Record(DepositedEvent{
		Chain:   info.Chain,
		TxID:    info.TxID,
		Asset:   asset,
		Account: account,
		Value:   info.Value,
	})

	if referral != nil {
		if err := p.bindReferral(ns, account, *referral); err != nil {
			return ResultFailure, err
		}
	}
	if info.InputAddr != "" {
		if err := p.bind(ns, info.Chain, info.InputAddr, account); err != nil {
			return ResultFailure, err
		}
	}
	return ResultCredited, nil
}

// bindReferral records the referral unless the account already has one.
// The first referral wins.
func (p *Processor) bindReferral(ns walletdb.ReadWriteBucket, account,
	referral gateway.AccountID) error {

	if _, ok := fetchReferral(ns, account); ok {
		return nil
	}
	if err := putReferral(ns, account, referral); err != nil {
		return err
	}
	p.cfg.Events.Record(ReferralBoundEvent{
		Account:  account,
		Referral: referral,
	})
	return nil
}

// bind associates the address with the account and drains the deposits
// parked under it.
func (p *Processor) bind(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	addr string, account gateway.AccountID) error {

	if prev, ok := fetchBinding(ns, chain, addr); !ok || prev != account {
		if err := putBinding(ns, chain, addr, account); err != nil {
			return err
		}
		p.cfg.Events.Record(AddressBoundEvent{
			Chain:   chain,
			Address: addr,
			Account: account,
		})
	}

	pending, err := fetchPending(ns, chain, addr)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	asset, ok := p.cfg.Assets[chain]
	if !ok {
		str := fmt.Sprintf("chain %v has no pegged asset", chain)
		return newError(ErrAssetNotRegistered, str, nil)
	}

	var total uint64
	for _, parked := range pending {
		if err := p.cfg.Ledger.Mint(asset, account, parked.Value); err != nil {
			return newError(ErrMint,
				"host ledger refused a parked deposit mint", err)
		}
		total += parked.Value
	}
	if err := deletePending(ns, chain, addr); err != nil {
		return err
	}

	log.Infof("Chain %v drained %d parked deposits of %d total under %s",
		chain, len(pending), total, addr)
	p.cfg.Events.Record(PendingDrainedEvent{
		Chain:   chain,
		Address: addr,
		Account: account,
		Count:   len(pending),
		Total:   total,
	})
	return nil
}

// BindAddress claims an external address for the account.  Future
// deposits from the address credit the account directly and any parked
// deposits release immediately.
func (p *Processor) BindAddress(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, addr string, account gateway.AccountID) error {

	if addr == "" {
		return newError(ErrInvalidAddress,
			"cannot bind an empty address", nil)
	}
	return p.bind(ns, chain, addr, account)
}

// BoundAccount returns the account the address is bound to.
func (p *Processor) BoundAccount(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, addr string) (gateway.AccountID, bool) {

	return fetchBinding(ns, chain, addr)
}

// Referral returns the account's referral, if one was ever recorded.
func (p *Processor) Referral(ns walletdb.ReadWriteBucket,
	account gateway.AccountID) (gateway.AccountID, bool) {

	return fetchReferral(ns, account)
}

// Pending returns the deposits parked under the address.
func (p *Processor) Pending(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, addr string) ([]PendingDeposit, error) {

	return fetchPending(ns, chain, addr)
}
