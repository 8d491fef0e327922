// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bridge wires the custody components into the external call
// surface of the peg.  Every call commits or rolls back as one database
// transaction spanning the trustee, withdraw, deposit and bridge
// namespaces.
package bridge

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/deposit"
	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
	"github.com/pegbridge/pegbridge/trustee"
	"github.com/pegbridge/pegbridge/txdetect"
	"github.com/pegbridge/pegbridge/withdraw"
)

// Config bundles everything a bridge needs to operate.
type Config struct {
	// DB is the bridge database.  New initializes its namespaces.
	DB walletdb.DB

	// Nets maps each bridged chain to its network parameters.
	Nets map[gateway.Chain]*netparams.Params

	// Assets maps each bridged chain to its pegged asset.
	Assets map[gateway.Chain]gateway.AssetID

	// MinDeposits maps each chain to the smallest deposit worth
	// crediting.  Chains without an entry accept any value.
	MinDeposits map[gateway.Chain]uint64

	// Ledger is the host asset ledger.
	Ledger gateway.AssetLedger

	// Currency is the host native token, used for trustee rewards.
	Currency gateway.Currency

	// Members supplies the ranked trustee election pool.
	Members gateway.MemberSource

	// DesiredMembers is the target trustee set size per election.
	DesiredMembers int

	// Extractor decodes deposit OP_RETURN payloads.  Nil selects the
	// default hex account extractor.
	Extractor gateway.AccountExtractor

	// Verifier checks transaction inclusion proofs.
	Verifier gateway.ProofVerifier

	// Root is the governance account allowed to drive root-only calls.
	Root gateway.AccountID

	// Events receives every domain event.  Nil discards them.
	Events gateway.EventSink
}

// Bridge is the top level custody and settlement core.  It owns the
// database and dispatches external calls to the component packages.
type Bridge struct {
	cfg Config

	registry  *trustee.Registry
	sessions  *trustee.SessionManager
	rewards   *trustee.RewardDistributor
	ledger    *withdraw.Ledger
	builder   *withdraw.Builder
	deposits  *deposit.Processor
	detectors map[gateway.Chain]*txdetect.Detector
}

// New creates a bridge from the given config and initializes the
// database namespaces of every component.
func New(cfg Config) (*Bridge, error) {
	switch {
	case cfg.DB == nil:
		return nil, newError(ErrConfig, "bridge requires a database", nil)
	case len(cfg.Nets) == 0:
		return nil, newError(ErrConfig, "bridge requires chain params", nil)
	case cfg.Ledger == nil:
		return nil, newError(ErrConfig, "bridge requires an asset ledger", nil)
	case cfg.Currency == nil:
		return nil, newError(ErrConfig, "bridge requires a currency", nil)
	case cfg.Members == nil:
		return nil, newError(ErrConfig, "bridge requires a member pool", nil)
	case cfg.Verifier == nil:
		return nil, newError(ErrConfig, "bridge requires a proof verifier", nil)
	}
	if cfg.Extractor == nil {
		cfg.Extractor = txdetect.OpReturnExtractor{}
	}
	if cfg.Events == nil {
		cfg.Events = gateway.DiscardEvents
	}

	b := &Bridge{
		cfg:       cfg,
		registry:  trustee.NewRegistry(cfg.Events),
		detectors: make(map[gateway.Chain]*txdetect.Detector),
	}
	b.sessions = trustee.NewSessionManager(trustee.SessionManagerConfig{
		Nets:           cfg.Nets,
		Registry:       b.registry,
		Members:        cfg.Members,
		DesiredMembers: cfg.DesiredMembers,
		Ledger:         cfg.Ledger,
		Assets:         cfg.Assets,
		Events:         cfg.Events,
	})
	b.rewards = trustee.NewRewardDistributor(trustee.RewardDistributorConfig{
		Sessions: b.sessions,
		Ledger:   cfg.Ledger,
		Currency: cfg.Currency,
		Assets:   cfg.Assets,
		Events:   cfg.Events,
	})
	b.ledger = withdraw.NewLedger(withdraw.LedgerConfig{
		Nets:   cfg.Nets,
		Ledger: cfg.Ledger,
		Events: cfg.Events,
	})
	b.builder = withdraw.NewBuilder(withdraw.BuilderConfig{
		Nets:   cfg.Nets,
		Ledger: b.ledger,
		Events: cfg.Events,
	})
	b.deposits = deposit.NewProcessor(deposit.ProcessorConfig{
		Ledger:    cfg.Ledger,
		Assets:    cfg.Assets,
		Extractor: cfg.Extractor,
		Events:    cfg.Events,
	})

	chains := make([]gateway.Chain, 0, len(cfg.Nets))
	for chain, net := range cfg.Nets {
		chains = append(chains, chain)
		b.detectors[chain] = txdetect.NewDetector(net, cfg.MinDeposits[chain])
	}

	err := walletdb.Update(cfg.DB, func(tx walletdb.ReadWriteTx) error {
		bridgeNS, err := tx.CreateTopLevelBucket(bridgeNamespaceKey)
		if err != nil {
			return err
		}
		if _, err := bridgeNS.CreateBucketIfNotExists(
			processedBucketName,
		); err != nil {
			return err
		}

		trusteeNS, err := tx.CreateTopLevelBucket(trusteeNamespaceKey)
		if err != nil {
			return err
		}
		if err := trustee.Init(trusteeNS, chains...); err != nil {
			return err
		}
		withdrawNS, err := tx.CreateTopLevelBucket(withdrawNamespaceKey)
		if err != nil {
			return err
		}
		if err := withdraw.Init(withdrawNS); err != nil {
			return err
		}
		depositNS, err := tx.CreateTopLevelBucket(depositNamespaceKey)
		if err != nil {
			return err
		}
		return deposit.Init(depositNS)
	})
	if err != nil {
		return nil, newError(ErrDatabase,
			"failed to initialize bridge namespaces", err)
	}
	return b, nil
}

// BindingStore returns a standalone address binding view over the
// bridge database for collaborators outside the update cycle.
func (b *Bridge) BindingStore() gateway.AddressBinding {
	return deposit.NewBindingStore(b.cfg.DB, depositNamespaceKey)
}

func (b *Bridge) update(f func(ns *namespaces) error) error {
	return walletdb.Update(b.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns, err := openNamespaces(tx)
		if err != nil {
			return err
		}
		return f(ns)
	})
}

func (b *Bridge) isRoot(actor gateway.AccountID) bool {
	return actor == b.cfg.Root
}

// authRoot admits only the governance account.
func (b *Bridge) authRoot(actor gateway.AccountID) error {
	if !b.isRoot(actor) {
		str := fmt.Sprintf("account %v is not the root account", actor)
		return newError(ErrUnauthorized, str, nil)
	}
	return nil
}

// authAdmin admits the governance account and the trustee admin.
func (b *Bridge) authAdmin(ns *namespaces, actor gateway.AccountID) error {
	if b.isRoot(actor) {
		return nil
	}
	if admin, ok := b.sessions.Admin(ns.trustee); ok && admin == actor {
		return nil
	}
	str := fmt.Sprintf("account %v is neither root nor trustee admin", actor)
	return newError(ErrUnauthorized, str, nil)
}

// authTrustee admits root, the trustee admin and members of the live
// session.
func (b *Bridge) authTrustee(ns *namespaces, chain gateway.Chain,
	actor gateway.AccountID) error {

	if b.authAdmin(ns, actor) == nil {
		return nil
	}
	session, err := b.sessions.CurrentSession(ns.trustee, chain)
	if err == nil && session.IsMember(actor) {
		return nil
	}
	str := fmt.Sprintf("account %v is not a trustee of chain %v", actor,
		chain)
	return newError(ErrUnauthorized, str, nil)
}

// SubmitResult reports what a submitted transaction did to the bridge
// state.
type SubmitResult struct {
	// Type is the detected transaction type.
	Type txdetect.TxType

	// DepositResult is set for deposits.
	DepositResult deposit.Result

	// Settled is the total withdrawal amount a matched custody spend
	// settled.
	Settled uint64

	// ProposalMatched reports whether a withdrawal spend matched the
	// live proposal.
	ProposalMatched bool
}

// decodeTx deserializes raw external chain transaction bytes.
func decodeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, newError(ErrTxDecode,
			"raw transaction does not deserialize", err)
	}
	return tx, nil
}

// prevOutputs maps the previous outputs of tx that prevTx can resolve.
func prevOutputs(tx, prevTx *wire.MsgTx) map[wire.OutPoint]*wire.TxOut {
	if prevTx == nil {
		return nil
	}
	prevHash := prevTx.TxHash()
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if op.Hash == prevHash && int(op.Index) < len(prevTx.TxOut) {
			prevOuts[op] = prevTx.TxOut[op.Index]
		}
	}
	return prevOuts
}

// SubmitTransaction feeds one confirmed external chain transaction into
// the bridge.  rawPrevTx optionally carries the transaction funding the
// submission's first input, letting custody spends and deposit payers
// be recognized.  The inclusion proof must bind the transaction to an
// accepted header.  Replays of an already processed txid are rejected;
// a deposit that resolves no account is deliberately not marked
// processed so it can be resubmitted with a richer previous
// transaction.
func (b *Bridge) SubmitTransaction(chain gateway.Chain, rawTx,
	rawPrevTx, proof []byte, height uint32) (*SubmitResult, error) {

	detector, ok := b.detectors[chain]
	if !ok {
		str := fmt.Sprintf("chain %v is not bridged", chain)
		return nil, newError(ErrUnsupportedChain, str, nil)
	}

	tx, err := decodeTx(rawTx)
	if err != nil {
		return nil, err
	}
	var prevTx *wire.MsgTx
	if len(rawPrevTx) > 0 {
		if prevTx, err = decodeTx(rawPrevTx); err != nil {
			return nil, err
		}
	}

	txid := tx.TxHash()
	if !b.cfg.Verifier.Verify(chain, txid, proof) {
		str := fmt.Sprintf("inclusion proof for %v rejected", txid)
		return nil, newError(ErrBadProof, str, nil)
	}

	result := &SubmitResult{}
	err = b.update(func(ns *namespaces) error {
		if isProcessed(ns.bridge, chain, txid) {
			str := fmt.Sprintf("transaction %v was already processed", txid)
			return newError(ErrReplayedTx, str, nil)
		}

		session, err := b.sessions.CurrentSession(ns.trustee, chain)
		if err != nil {
			return newError(ErrNoSession,
				"no trustee session exists for the chain", err)
		}
		current := txdetect.CustodyAddrs{
			Hot:  session.HotAddress,
			Cold: session.ColdAddress,
		}
		var previous *txdetect.CustodyAddrs
		if b.sessions.TransitionInProgress(ns.trustee, chain) {
			last, err := b.sessions.LastSession(ns.trustee, chain)
			if err != nil {
				return err
			}
			previous = &txdetect.CustodyAddrs{
				Hot:  last.HotAddress,
				Cold: last.ColdAddress,
			}
		}

		class, err := detector.Classify(tx, prevTx, current, previous)
		if err != nil {
			return err
		}
		result.Type = class.Type

		switch class.Type {
		case txdetect.TxDeposit:
			res, err := b.deposits.Process(ns.deposit, &deposit.Info{
				Chain:     chain,
				TxID:      txid,
				Value:     class.DepositValue,
				OpReturn:  class.OpReturn,
				InputAddr: class.InputAddr,
			})
			if err != nil {
				return err
			}
			result.DepositResult = res
			if res == deposit.ResultFailure {
				// Not marked processed: a resubmission carrying the
				// previous transaction can still credit it.
				return nil
			}
			return markProcessed(ns.bridge, chain, txid, height)

		case txdetect.TxWithdrawal:
			settled, matched, err := b.builder.FinishConfirmed(
				ns.withdraw, chain, tx,
			)
			if err != nil {
				return err
			}
			result.Settled = settled
			result.ProposalMatched = matched
			if matched && settled > 0 {
				_, err = b.sessions.RecordSignatures(
					ns.trustee, chain, tx,
					prevOutputs(tx, prevTx), settled,
				)
				if err != nil {
					return err
				}
			}
			return markProcessed(ns.bridge, chain, txid, height)

		case txdetect.TxHotAndCold:
			// Internal custody shuffles still earn signing credit,
			// weighted by the shuffled value.
			var moved uint64
			for _, txOut := range tx.TxOut {
				moved += uint64(txOut.Value)
			}
			_, err := b.sessions.RecordSignatures(
				ns.trustee, chain, tx, prevOutputs(tx, prevTx), moved,
			)
			if err != nil {
				return err
			}
			return markProcessed(ns.bridge, chain, txid, height)

		case txdetect.TxTrusteeTransition:
			err := b.sessions.CloseTransition(ns.trustee, chain, height)
			if err != nil {
				return err
			}
			return markProcessed(ns.bridge, chain, txid, height)

		default:
			// Irrelevant transactions mutate nothing and are not
			// remembered.
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Chain %v transaction %v submitted as %v", chain, txid,
		result.Type)
	return result, nil
}

// Withdraw applies for a withdrawal of the pegged asset to an external
// address and returns the withdrawal id.
func (b *Bridge) Withdraw(applicant gateway.AccountID,
	asset gateway.AssetID, address, memo string, amount uint64,
	height uint32) (uint32, error) {

	var id uint32
	err := b.update(func(ns *namespaces) error {
		var err error
		id, err = b.ledger.Request(
			ns.withdraw, asset, applicant, address, memo, amount, height,
		)
		return err
	})
	return id, err
}

// CancelWithdrawal cancels the applicant's own applying withdrawal.
func (b *Bridge) CancelWithdrawal(applicant gateway.AccountID,
	id uint32) error {

	return b.update(func(ns *namespaces) error {
		return b.ledger.Cancel(ns.withdraw, id, applicant)
	})
}

// SetWithdrawalStateByRoot drives a withdrawal into the given state by
// governance decision.
func (b *Bridge) SetWithdrawalStateByRoot(actor gateway.AccountID,
	id uint32, state withdraw.State) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		return b.ledger.SetStateByRoot(ns.withdraw, id, state)
	})
}

// WithdrawalRecord returns the withdrawal with the given id.
func (b *Bridge) WithdrawalRecord(id uint32) (*withdraw.Record, error) {
	var rec *withdraw.Record
	err := b.update(func(ns *namespaces) error {
		var err error
		rec, err = b.ledger.Record(ns.withdraw, id)
		return err
	})
	return rec, err
}

// RegisterAsset binds a pegged asset to its home chain for withdrawal
// accounting.
func (b *Bridge) RegisterAsset(actor gateway.AccountID,
	asset gateway.AssetID, chain gateway.Chain) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		return b.ledger.RegisterAsset(ns.withdraw, asset, chain)
	})
}

// SetWithdrawalConfig updates a chain's withdrawal limits and fee.
func (b *Bridge) SetWithdrawalConfig(actor gateway.AccountID,
	chain gateway.Chain, cfg *withdraw.ChainConfig) error {

	return b.update(func(ns *namespaces) error {
		if err := b.authAdmin(ns, actor); err != nil {
			return err
		}
		return b.ledger.SetChainConfig(ns.withdraw, chain, cfg)
	})
}

// BindDepositAddress claims an external address for a host account and
// releases any deposits parked under it.
func (b *Bridge) BindDepositAddress(chain gateway.Chain, addr string,
	account gateway.AccountID) error {

	return b.update(func(ns *namespaces) error {
		return b.deposits.BindAddress(ns.deposit, chain, addr, account)
	})
}

// SetupTrustee registers the caller as a trustee candidate for the
// chain.
func (b *Bridge) SetupTrustee(account gateway.AccountID,
	chain gateway.Chain, proxy *gateway.AccountID, about string, hotKey,
	coldKey []byte) error {

	return b.update(func(ns *namespaces) error {
		return b.sessions.SetupTrustee(
			ns.trustee, chain, account, proxy, about, hotKey, coldKey,
		)
	})
}

// SetTrusteeProxy updates the caller's proxy account.
func (b *Bridge) SetTrusteeProxy(account gateway.AccountID,
	chain gateway.Chain, proxy gateway.AccountID) error {

	return b.update(func(ns *namespaces) error {
		return b.registry.SetProxy(ns.trustee, chain, account, proxy)
	})
}

// RotateTrustees elects the next trustee session.  A nil candidate list
// elects from the ranked member pool.  Rotation is refused while a
// withdrawal proposal is live: its custody inputs would be orphaned by
// the address change.
func (b *Bridge) RotateTrustees(actor gateway.AccountID,
	chain gateway.Chain, candidates []gateway.AccountID,
	height uint32) (*trustee.SessionInfo, error) {

	var info *trustee.SessionInfo
	err := b.update(func(ns *namespaces) error {
		if err := b.authAdmin(ns, actor); err != nil {
			return err
		}
		if b.builder.ExistsProposal(ns.withdraw, chain) {
			return newError(ErrProposalInFlight,
				"cannot rotate trustees with a live proposal", nil)
		}
		var err error
		info, err = b.sessions.Rotate(ns.trustee, chain, candidates, height)
		return err
	})
	return info, err
}

// ForceCloseTransition clears a stuck custody transition by governance
// decision, forfeiting the outgoing session's reward attribution.
func (b *Bridge) ForceCloseTransition(actor gateway.AccountID,
	chain gateway.Chain) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		return b.sessions.ForceCloseTransition(ns.trustee, chain)
	})
}

// Blacklist bars misbehaving accounts from future elections.
func (b *Bridge) Blacklist(actor gateway.AccountID, chain gateway.Chain,
	accounts ...gateway.AccountID) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		return b.sessions.MoveToBlacklist(ns.trustee, chain, accounts...)
	})
}

// Unblacklist releases accounts from the election blacklist.
func (b *Bridge) Unblacklist(actor gateway.AccountID, chain gateway.Chain,
	accounts ...gateway.AccountID) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		return b.sessions.RemoveFromBlacklist(ns.trustee, chain, accounts...)
	})
}

// SetTrusteeAdmin sets or, with a nil admin, clears the trustee admin
// account.
func (b *Bridge) SetTrusteeAdmin(actor gateway.AccountID,
	admin *gateway.AccountID) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		if admin == nil {
			return b.sessions.RemoveAdmin(ns.trustee)
		}
		return b.sessions.SetAdmin(ns.trustee, *admin)
	})
}

// SetAdminMultiplier updates the admin's reward weight multiplier,
// expressed in tenths.
func (b *Bridge) SetAdminMultiplier(actor gateway.AccountID,
	multiplier uint64) error {

	if err := b.authRoot(actor); err != nil {
		return err
	}
	return b.update(func(ns *namespaces) error {
		return b.sessions.SetAdminMultiplier(ns.trustee, multiplier)
	})
}

// ClaimTrusteeReward pays an ended session's custody balances out to
// its members.  Only a member of that session may trigger the claim.
func (b *Bridge) ClaimTrusteeReward(claimer gateway.AccountID,
	chain gateway.Chain, session uint32) error {

	return b.update(func(ns *namespaces) error {
		return b.rewards.ClaimReward(ns.trustee, chain, session, claimer)
	})
}

// BuildWithdrawalProposal drains the chain's applying withdrawals into
// a new proposal spending the supplied hot custody outputs.  Trustees,
// the trustee admin and root may build.
func (b *Bridge) BuildWithdrawalProposal(actor gateway.AccountID,
	chain gateway.Chain, utxos []withdraw.UTXO,
	feePerKb btcutil.Amount) (*withdraw.Proposal, error) {

	var prop *withdraw.Proposal
	err := b.update(func(ns *namespaces) error {
		if err := b.authTrustee(ns, chain, actor); err != nil {
			return err
		}
		session, err := b.sessions.CurrentSession(ns.trustee, chain)
		if err != nil {
			return newError(ErrNoSession,
				"no trustee session exists for the chain", err)
		}
		prop, err = b.builder.BuildProposal(
			ns.withdraw, chain, utxos, session.HotAddress,
			session.HotRedeemScript, feePerKb,
		)
		return err
	})
	return prop, err
}

// FinalizeWithdrawalProposal pins the fully signed form of the live
// proposal.
func (b *Bridge) FinalizeWithdrawalProposal(actor gateway.AccountID,
	chain gateway.Chain, signedTx *wire.MsgTx) error {

	return b.update(func(ns *namespaces) error {
		if err := b.authTrustee(ns, chain, actor); err != nil {
			return err
		}
		return b.builder.FinalizeProposal(ns.withdraw, chain, signedTx)
	})
}

// DropWithdrawalProposal abandons the live proposal and recovers its
// withdrawals.
func (b *Bridge) DropWithdrawalProposal(actor gateway.AccountID,
	chain gateway.Chain) error {

	return b.update(func(ns *namespaces) error {
		if err := b.authAdmin(ns, actor); err != nil {
			return err
		}
		return b.builder.DropProposal(ns.withdraw, chain)
	})
}

// CurrentSession returns the live trustee session of the chain.
func (b *Bridge) CurrentSession(chain gateway.Chain) (*trustee.SessionInfo,
	error) {

	var info *trustee.SessionInfo
	err := b.update(func(ns *namespaces) error {
		var err error
		info, err = b.sessions.CurrentSession(ns.trustee, chain)
		return err
	})
	return info, err
}

// SessionAt returns the trustee session with the given number.
func (b *Bridge) SessionAt(chain gateway.Chain,
	number uint32) (*trustee.SessionInfo, error) {

	var info *trustee.SessionInfo
	err := b.update(func(ns *namespaces) error {
		var err error
		info, err = b.sessions.SessionAt(ns.trustee, chain, number)
		return err
	})
	return info, err
}
