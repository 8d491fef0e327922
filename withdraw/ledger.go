// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdraw

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
)

// AppliedEvent is recorded when a withdrawal is requested.
type AppliedEvent struct {
	ID        uint32
	Asset     gateway.AssetID
	Applicant gateway.AccountID
	Amount    uint64
	Address   string
}

// StateChangedEvent is recorded whenever a withdrawal record changes
// state.
type StateChangedEvent struct {
	ID    uint32
	State State
}

// LedgerConfig bundles the dependencies of a withdrawal ledger.
type LedgerConfig struct {
	// Nets maps each bridged chain to its network parameters, used to
	// validate receiving addresses.
	Nets map[gateway.Chain]*netparams.Params

	// Ledger is the host asset ledger funds are locked in and burned
	// from.
	Ledger gateway.AssetLedger

	// Events receives domain events.  Nil discards them.
	Events gateway.EventSink
}

// Ledger tracks withdrawal records through their lifecycle and the
// locked balances backing them.  Requested amounts stay locked on the
// applicant's account until the withdrawal settles, at which point they
// are burned, or until it cancels, at which point they unlock.
type Ledger struct {
	cfg LedgerConfig
}

// NewLedger creates a withdrawal ledger from the given config.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Events == nil {
		cfg.Events = gateway.DiscardEvents
	}
	return &Ledger{cfg: cfg}
}

// RegisterAsset binds a pegged asset to its bridged chain.  Withdrawal
// requests for unbound assets are rejected.
func (l *Ledger) RegisterAsset(ns walletdb.ReadWriteBucket,
	asset gateway.AssetID, chain gateway.Chain) error {

	return putAssetChain(ns, asset, chain)
}

// AssetChain returns the chain a pegged asset is bound to.
func (l *Ledger) AssetChain(ns walletdb.ReadWriteBucket,
	asset gateway.AssetID) (gateway.Chain, bool) {

	return fetchAssetChain(ns, asset)
}

// ChainAsset returns the pegged asset bound to a chain.
func (l *Ledger) ChainAsset(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (gateway.AssetID, bool) {

	return fetchChainAsset(ns, chain)
}

// SetChainConfig installs the withdrawal policy of a chain.
func (l *Ledger) SetChainConfig(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, cfg *ChainConfig) error {

	return putChainConfig(ns, chain, cfg)
}

// ChainConfig returns the withdrawal policy of a chain.
func (l *Ledger) ChainConfig(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (*ChainConfig, error) {

	return fetchChainConfig(ns, chain)
}

// lock reserves amount of the applicant's balance for a withdrawal.
func (l *Ledger) lock(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	account gateway.AccountID, amount uint64) error {

	locked := fetchLocked(ns, asset, account)
	balance := l.cfg.Ledger.Balance(asset, account)
	if balance < locked || balance-locked < amount {
		str := fmt.Sprintf("usable balance %d cannot lock %d",
			balance-locked, amount)
		return newError(ErrInsufficientBalance, str, nil)
	}
	return putLocked(ns, asset, account, locked+amount)
}

// unlock releases amount of the applicant's locked balance.
func (l *Ledger) unlock(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	account gateway.AccountID, amount uint64) error {

	locked := fetchLocked(ns, asset, account)
	if locked < amount {
		str := fmt.Sprintf("locked balance %d cannot release %d", locked,
			amount)
		return newError(ErrLockUnderflow, str, nil)
	}
	return putLocked(ns, asset, account, locked-amount)
}

// destroy burns a settled withdrawal's locked funds.
func (l *Ledger) destroy(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	account gateway.AccountID, amount uint64) error {

	if err := l.unlock(ns, asset, account, amount); err != nil {
		return err
	}
	if err := l.cfg.Ledger.Burn(asset, account, amount); err != nil {
		return newError(ErrDatabase, "failed to burn withdrawn funds", err)
	}
	return nil
}

// Locked returns the applicant's locked balance of the asset.
func (l *Ledger) Locked(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	account gateway.AccountID) uint64 {

	return fetchLocked(ns, asset, account)
}

// Request applies for a withdrawal of the asset to an external address.
// The amount, fee included, is locked on the applicant's account and a
// record in the applying state is created.  The returned id identifies
// the withdrawal from then on.
func (l *Ledger) Request(ns walletdb.ReadWriteBucket, asset gateway.AssetID,
	applicant gateway.AccountID, address, memo string, amount uint64,
	height uint32) (uint32, error) {

	chain, ok := fetchAssetChain(ns, asset)
	if !ok {
		str := fmt.Sprintf("asset %d is not bound to a chain", asset)
		return 0, newError(ErrAssetNotRegistered, str, nil)
	}
	cfg, err := fetchChainConfig(ns, chain)
	if err != nil {
		return 0, err
	}
	net, ok := l.cfg.Nets[chain]
	if !ok {
		str := fmt.Sprintf("no network parameters for chain %v", chain)
		return 0, newError(ErrUnsupportedChain, str, nil)
	}

	if amount < cfg.MinWithdrawal || amount <= cfg.Fee {
		str := fmt.Sprintf("withdrawal of %d is below the chain minimum "+
			"%d or does not cover the fee %d", amount,
			cfg.MinWithdrawal, cfg.Fee)
		return 0, newError(ErrAmountTooLow, str, nil)
	}
	addr, err := btcutil.DecodeAddress(address, net.Params)
	if err != nil {
		return 0, newError(ErrInvalidAddress,
			"receiving address does not parse", err)
	}
	if !addr.IsForNet(net.Params) {
		str := fmt.Sprintf("address %s is not valid for %s", address,
			net.Name)
		return 0, newError(ErrInvalidAddress, str, nil)
	}

	// The payout must survive the dust filter or no proposal will ever
	// include it.
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return 0, newError(ErrInvalidAddress,
			"failed to build payout script", err)
	}
	payout := wire.NewTxOut(int64(amount-cfg.Fee), pkScript)
	if txrules.IsDustOutput(payout, txrules.DefaultRelayFeePerKb) {
		str := fmt.Sprintf("payout of %d is dust", payout.Value)
		return 0, newError(ErrAmountTooLow, str, nil)
	}

	if err := l.lock(ns, asset, applicant, amount); err != nil {
		return 0, err
	}

	id := fetchNextID(ns)
	rec := &Record{
		ID:        id,
		Asset:     asset,
		Applicant: applicant,
		Amount:    amount,
		Address:   address,
		Memo:      memo,
		Height:    height,
		State:     StateApplying,
	}
	if err := putRecord(ns, rec); err != nil {
		return 0, err
	}
	if err := putNextID(ns, id+1); err != nil {
		return 0, err
	}

	log.Debugf("Withdrawal %d applied: asset %d, %d to %s", id, asset,
		amount, address)
	l.cfg.Events.Record(AppliedEvent{
		ID:        id,
		Asset:     asset,
		Applicant: applicant,
		Amount:    amount,
		Address:   address,
	})
	return id, nil
}

// transition moves a record from one of the allowed source states to
// dst and persists it.
func (l *Ledger) transition(ns walletdb.ReadWriteBucket, id uint32,
	dst State, allowed ...State) (*Record, error) {

	rec, err := fetchRecord(ns, id)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, src := range allowed {
		if rec.State == src {
			ok = true
			break
		}
	}
	if !ok {
		str := fmt.Sprintf("withdrawal %d cannot move from %v to %v", id,
			rec.State, dst)
		return nil, newError(ErrInvalidState, str, nil)
	}
	rec.State = dst
	if err := putRecord(ns, rec); err != nil {
		return nil, err
	}
	l.cfg.Events.Record(StateChangedEvent{ID: id, State: dst})
	return rec, nil
}

// Process moves an applying withdrawal into the processing state when a
// proposal picks it up.
func (l *Ledger) Process(ns walletdb.ReadWriteBucket, id uint32) error {
	_, err := l.transition(ns, id, StateProcessing, StateApplying)
	return err
}

// Recover returns a processing withdrawal to the applying state after
// its proposal is dropped.
func (l *Ledger) Recover(ns walletdb.ReadWriteBucket, id uint32) error {
	_, err := l.transition(ns, id, StateApplying, StateProcessing)
	return err
}

// Cancel cancels an applying withdrawal on behalf of its applicant and
// unlocks the funds.
func (l *Ledger) Cancel(ns walletdb.ReadWriteBucket, id uint32,
	by gateway.AccountID) error {

	rec, err := fetchRecord(ns, id)
	if err != nil {
		return err
	}
	if rec.Applicant != by {
		str := fmt.Sprintf("withdrawal %d belongs to %v", id,
			rec.Applicant)
		return newError(ErrNotApplicant, str, nil)
	}
	rec, err = l.transition(ns, id, StateNormalCancel, StateApplying)
	if err != nil {
		return err
	}
	return l.unlock(ns, rec.Asset, rec.Applicant, rec.Amount)
}

// RootCancel cancels a withdrawal by governance and unlocks the funds.
// Unlike Cancel it also reaches records already processing.
func (l *Ledger) RootCancel(ns walletdb.ReadWriteBucket, id uint32) error {
	rec, err := l.transition(ns, id, StateRootCancel, StateApplying,
		StateProcessing)
	if err != nil {
		return err
	}
	return l.unlock(ns, rec.Asset, rec.Applicant, rec.Amount)
}

// Finish settles a processing withdrawal after its custody spend
// confirmed, burning the locked funds.
func (l *Ledger) Finish(ns walletdb.ReadWriteBucket, id uint32) error {
	rec, err := l.transition(ns, id, StateNormalFinish, StateProcessing)
	if err != nil {
		return err
	}
	return l.destroy(ns, rec.Asset, rec.Applicant, rec.Amount)
}

// RootFinish settles a withdrawal by governance, burning the locked
// funds.  It reaches both applying and processing records.
func (l *Ledger) RootFinish(ns walletdb.ReadWriteBucket, id uint32) error {
	rec, err := l.transition(ns, id, StateRootFinish, StateApplying,
		StateProcessing)
	if err != nil {
		return err
	}
	return l.destroy(ns, rec.Asset, rec.Applicant, rec.Amount)
}

// SetStateByRoot force-moves a withdrawal record by governance.  The
// permitted transitions mirror the regular lifecycle: processing
// records can be recovered or re-processed, and open records can be
// terminated in either root state.
func (l *Ledger) SetStateByRoot(ns walletdb.ReadWriteBucket, id uint32,
	state State) error {

	switch state {
	case StateApplying:
		return l.Recover(ns, id)
	case StateProcessing:
		return l.Process(ns, id)
	case StateRootCancel:
		return l.RootCancel(ns, id)
	case StateRootFinish:
		return l.RootFinish(ns, id)
	default:
		str := fmt.Sprintf("state %v cannot be forced", state)
		return newError(ErrInvalidState, str, nil)
	}
}

// Record returns the withdrawal with the given id.
func (l *Ledger) Record(ns walletdb.ReadWriteBucket, id uint32) (*Record,
	error) {

	return fetchRecord(ns, id)
}

// PendingWithdrawals returns the applying records bound for the chain
// in id order.
func (l *Ledger) PendingWithdrawals(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) ([]*Record, error) {

	var pending []*Record
	err := forEachRecord(ns, func(rec *Record) error {
		if rec.State != StateApplying {
			return nil
		}
		recChain, ok := fetchAssetChain(ns, rec.Asset)
		if !ok || recChain != chain {
			return nil
		}
		pending = append(pending, rec)
		return nil
	})
	if err != nil {
		if _, ok := err.(Error); ok {
			return nil, err
		}
		return nil, newError(ErrDatabase,
			"failed to scan withdrawal records", err)
	}
	return pending, nil
}
