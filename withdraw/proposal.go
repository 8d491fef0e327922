// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package withdraw

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
)

// Output script sizes used for fee estimation.
const (
	// p2shOutputScriptSize is OP_HASH160 <20 bytes> OP_EQUAL.
	p2shOutputScriptSize = 23

	// p2wshOutputScriptSize is OP_0 <32 bytes>.
	p2wshOutputScriptSize = 34
)

// VoteState tracks a proposal's signature collection.
type VoteState uint8

const (
	// VoteUnfinished means the proposal still collects trustee
	// signatures.
	VoteUnfinished VoteState = iota

	// VoteFinished means enough trustees signed and the final
	// transaction hash is pinned.
	VoteFinished
)

// String returns the VoteState as a human-readable name.
func (v VoteState) String() string {
	switch v {
	case VoteUnfinished:
		return "Unfinished"
	case VoteFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Unknown VoteState (%d)", uint8(v))
	}
}

// Proposal is the single live withdrawal proposal of a chain: an
// unsigned custody spend paying a batch of withdrawal requests.
type Proposal struct {
	// State is the signature collection state.
	State VoteState

	// WithdrawalIDs lists the records the proposal settles, in id
	// order.
	WithdrawalIDs []uint32

	// Packet carries the proposal transaction while trustees sign it.
	Packet *psbt.Packet

	// FinalHash is the hash of the fully signed transaction, pinned
	// when the proposal is finalized.
	FinalHash *chainhash.Hash
}

// serializeProposal returns the serialization of a proposal:
//
//	<state><idCount>[<id>...]<psbtLen><psbt><hasFinal><finalHash?>
func serializeProposal(prop *Proposal) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(prop.State))
	buf.Write(uint32ToBytes(uint32(len(prop.WithdrawalIDs))))
	for _, id := range prop.WithdrawalIDs {
		buf.Write(uint32ToBytes(id))
	}

	var packet bytes.Buffer
	if err := prop.Packet.Serialize(&packet); err != nil {
		return nil, newError(ErrSerialization,
			"failed to serialize proposal psbt", err)
	}
	writeVarBytes(&buf, packet.Bytes())

	if prop.FinalHash != nil {
		buf.WriteByte(1)
		buf.Write(prop.FinalHash[:])
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

func deserializeProposal(serialized []byte) (*Proposal, error) {
	r := bytes.NewReader(serialized)
	prop := &Proposal{}

	state, err := r.ReadByte()
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read proposal state", err)
	}
	prop.State = VoteState(state)

	var n [4]byte
	if _, err := r.Read(n[:]); err != nil {
		return nil, newError(ErrSerialization,
			"failed to read proposal id count", err)
	}
	count := byteOrder.Uint32(n[:])
	prop.WithdrawalIDs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		if _, err := r.Read(n[:]); err != nil {
			return nil, newError(ErrSerialization,
				"failed to read proposal id", err)
		}
		prop.WithdrawalIDs[i] = byteOrder.Uint32(n[:])
	}

	raw, err := readVarBytes(r)
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read proposal psbt", err)
	}
	prop.Packet, err = psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to parse proposal psbt", err)
	}

	hasFinal, err := r.ReadByte()
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to read proposal final flag", err)
	}
	if hasFinal == 1 {
		var hash chainhash.Hash
		if _, err := r.Read(hash[:]); err != nil {
			return nil, newError(ErrSerialization,
				"failed to read proposal final hash", err)
		}
		prop.FinalHash = &hash
	}
	return prop, nil
}

// ProposalCreatedEvent is recorded when a withdrawal proposal is
// stored.
type ProposalCreatedEvent struct {
	Chain         gateway.Chain
	WithdrawalIDs []uint32
	TxHash        chainhash.Hash
}

// ProposalFinalizedEvent is recorded when enough trustees signed the
// proposal and its final hash is pinned.
type ProposalFinalizedEvent struct {
	Chain  gateway.Chain
	TxHash chainhash.Hash
}

// ProposalDroppedEvent is recorded when a proposal is abandoned and its
// withdrawals recovered.
type ProposalDroppedEvent struct {
	Chain         gateway.Chain
	WithdrawalIDs []uint32
}

// ProposalSettledEvent is recorded when the proposal's custody spend
// confirmed and its withdrawals finished.
type ProposalSettledEvent struct {
	Chain         gateway.Chain
	WithdrawalIDs []uint32
	Settled       uint64
	TxHash        chainhash.Hash
}

// ProposalMismatchEvent is recorded when a confirmed hot custody spend
// does not correspond to the live proposal.  This signals trustee
// misbehavior and demands operator attention.
type ProposalMismatchEvent struct {
	Chain    gateway.Chain
	Expected chainhash.Hash
	Got      chainhash.Hash
}

// UTXO is an unspent hot custody output available to fund a proposal.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    int64
}

// BuilderConfig bundles the dependencies of a proposal builder.
type BuilderConfig struct {
	// Nets maps each bridged chain to its network parameters.
	Nets map[gateway.Chain]*netparams.Params

	// Ledger is the withdrawal ledger the proposals settle against.
	Ledger *Ledger

	// Events receives domain events.  Nil discards them.
	Events gateway.EventSink
}

// Builder assembles, finalizes and settles withdrawal proposals.  At
// most one proposal is live per chain at any time.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder creates a proposal builder from the given config.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Events == nil {
		cfg.Events = gateway.DiscardEvents
	}
	return &Builder{cfg: cfg}
}

// multisigSigScriptSize estimates the signature script size of one
// custody input: an extra stack item, threshold signatures and the
// revealed redeem script.
func multisigSigScriptSize(redeemScript []byte) int {
	threshold := 1
	if len(redeemScript) > 0 {
		if op := int(redeemScript[0]); op >= txscript.OP_1 &&
			op <= txscript.OP_16 {

			threshold = op - txscript.OP_1 + 1
		}
	}
	// 74 bytes per signature push, 3 bytes of push overhead for the
	// script.
	return 1 + threshold*74 + len(redeemScript) + 3
}

// estimateProposalSize returns a worst case serialize size for a
// proposal transaction spending inputCount custody multisig outputs to
// txOuts plus a change output of changeScriptSize.
func estimateProposalSize(inputCount, sigScriptSize int,
	txOuts []*wire.TxOut, changeScriptSize int) int {

	inputSize := 32 + 4 +
		wire.VarIntSerializeSize(uint64(sigScriptSize)) + sigScriptSize + 4
	changeSize := 8 +
		wire.VarIntSerializeSize(uint64(changeScriptSize)) + changeScriptSize

	// 8 additional bytes are for version and locktime.
	return 8 + wire.VarIntSerializeSize(uint64(inputCount)) +
		wire.VarIntSerializeSize(uint64(len(txOuts)+1)) +
		inputCount*inputSize +
		txsizes.SumOutputSerializeSizes(txOuts) +
		changeSize
}

// ExistsProposal reports whether a proposal is live for the chain.
func (b *Builder) ExistsProposal(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) bool {

	return existsProposal(ns, chain)
}

// Proposal returns the live proposal of the chain.
func (b *Builder) Proposal(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (*Proposal, error) {

	return fetchProposal(ns, chain)
}

// BuildProposal drains the chain's applying withdrawals, up to the
// configured batch size, into a new unsigned custody spend funded by
// the supplied hot custody outputs.  Each paid withdrawal moves to the
// processing state and the proposal becomes the chain's single live
// proposal.  Change above the dust limit returns to the hot custody
// address.
func (b *Builder) BuildProposal(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, utxos []UTXO, hotAddress string,
	redeemScript []byte, feePerKb btcutil.Amount) (*Proposal, error) {

	if existsProposal(ns, chain) {
		str := fmt.Sprintf("chain %v already has a live proposal", chain)
		return nil, newError(ErrProposalExists, str, nil)
	}
	net, ok := b.cfg.Nets[chain]
	if !ok {
		str := fmt.Sprintf("no network parameters for chain %v", chain)
		return nil, newError(ErrUnsupportedChain, str, nil)
	}
	cfg, err := fetchChainConfig(ns, chain)
	if err != nil {
		return nil, err
	}

	pending, err := b.cfg.Ledger.PendingWithdrawals(ns, chain)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, newError(ErrNoPendingWithdrawals,
			"no applying withdrawals to propose", nil)
	}
	if cfg.MaxProposalSize > 0 && len(pending) > int(cfg.MaxProposalSize) {
		pending = pending[:cfg.MaxProposalSize]
	}

	changeScriptSize := p2shOutputScriptSize
	if net.Chain == gateway.Bitcoin {
		changeScriptSize = p2wshOutputScriptSize
	}

	var (
		txOuts   []*wire.TxOut
		ids      []uint32
		outTotal btcutil.Amount
	)
	for _, rec := range pending {
		addr, err := btcutil.DecodeAddress(rec.Address, net.Params)
		if err != nil {
			return nil, newError(ErrTxBuild,
				"stored receiving address does not parse", err)
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, newError(ErrTxBuild,
				"failed to build payout script", err)
		}
		txOut := wire.NewTxOut(int64(rec.Amount-cfg.Fee), pkScript)
		if txrules.IsDustOutput(txOut, txrules.DefaultRelayFeePerKb) {
			str := fmt.Sprintf("withdrawal %d payout is dust", rec.ID)
			return nil, newError(ErrTxBuild, str, nil)
		}
		txOuts = append(txOuts, txOut)
		ids = append(ids, rec.ID)
		outTotal += btcutil.Amount(txOut.Value)
	}

	// Greedily pull custody outputs until they cover the payouts and
	// the fee for the resulting transaction size.
	var (
		selected []UTXO
		inTotal  btcutil.Amount
		fee      btcutil.Amount
	)
	sigScriptSize := multisigSigScriptSize(redeemScript)
	for _, utxo := range utxos {
		selected = append(selected, utxo)
		inTotal += btcutil.Amount(utxo.Value)

		size := estimateProposalSize(
			len(selected), sigScriptSize, txOuts, changeScriptSize,
		)
		fee = txrules.FeeForSerializeSize(feePerKb, size)
		if inTotal >= outTotal+fee {
			break
		}
	}
	if inTotal < outTotal+fee {
		str := fmt.Sprintf("custody outputs hold %v, proposal needs %v",
			inTotal, outTotal+fee)
		return nil, newError(ErrInsufficientFunds, str, nil)
	}

	unsigned := wire.NewMsgTx(wire.TxVersion)
	for _, utxo := range selected {
		outPoint := utxo.OutPoint
		unsigned.AddTxIn(wire.NewTxIn(&outPoint, nil, nil))
	}
	for _, txOut := range txOuts {
		unsigned.AddTxOut(txOut)
	}
	if change := inTotal - outTotal - fee; change > 0 {
		hotAddr, err := btcutil.DecodeAddress(hotAddress, net.Params)
		if err != nil {
			return nil, newError(ErrTxBuild,
				"hot custody address does not parse", err)
		}
		changeScript, err := txscript.PayToAddrScript(hotAddr)
		if err != nil {
			return nil, newError(ErrTxBuild,
				"failed to build change script", err)
		}
		changeOut := wire.NewTxOut(int64(change), changeScript)
		if !txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {
			unsigned.AddTxOut(changeOut)
		}
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, newError(ErrTxBuild,
			"failed to wrap proposal in a psbt", err)
	}

	for _, id := range ids {
		if err := b.cfg.Ledger.Process(ns, id); err != nil {
			return nil, err
		}
	}

	prop := &Proposal{
		State:         VoteUnfinished,
		WithdrawalIDs: ids,
		Packet:        packet,
	}
	if err := putProposal(ns, chain, prop); err != nil {
		return nil, err
	}

	txHash := unsigned.TxHash()
	log.Infof("Chain %v proposal created: %d withdrawals, %d inputs, "+
		"fee %v, tx %v", chain, len(ids), len(selected), fee, txHash)
	b.cfg.Events.Record(ProposalCreatedEvent{
		Chain:         chain,
		WithdrawalIDs: ids,
		TxHash:        txHash,
	})
	return prop, nil
}

// sameStructure reports whether the signed transaction spends exactly
// the proposal's inputs to exactly its outputs.
func sameStructure(unsigned, signed *wire.MsgTx) bool {
	if len(unsigned.TxIn) != len(signed.TxIn) ||
		len(unsigned.TxOut) != len(signed.TxOut) {

		return false
	}
	for i, txIn := range unsigned.TxIn {
		if signed.TxIn[i].PreviousOutPoint != txIn.PreviousOutPoint {
			return false
		}
	}
	for i, txOut := range unsigned.TxOut {
		if signed.TxOut[i].Value != txOut.Value ||
			!bytes.Equal(signed.TxOut[i].PkScript, txOut.PkScript) {

			return false
		}
	}
	return true
}

// FinalizeProposal pins the fully signed form of the live proposal.
// The signed transaction must spend the proposal's inputs to its
// outputs; only the signature data may differ.
func (b *Builder) FinalizeProposal(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, signedTx *wire.MsgTx) error {

	prop, err := fetchProposal(ns, chain)
	if err != nil {
		return err
	}
	if prop.State == VoteFinished {
		return newError(ErrProposalExists,
			"proposal is already finalized", nil)
	}
	if !sameStructure(prop.Packet.UnsignedTx, signedTx) {
		return newError(ErrProposalMismatch,
			"signed tx does not match the proposal", nil)
	}

	hash := signedTx.TxHash()
	prop.State = VoteFinished
	prop.FinalHash = &hash
	if err := putProposal(ns, chain, prop); err != nil {
		return err
	}

	log.Infof("Chain %v proposal finalized as %v", chain, hash)
	b.cfg.Events.Record(ProposalFinalizedEvent{Chain: chain, TxHash: hash})
	return nil
}

// DropProposal abandons the live proposal and recovers its withdrawals
// to the applying state.
func (b *Builder) DropProposal(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) error {

	prop, err := fetchProposal(ns, chain)
	if err != nil {
		return err
	}
	for _, id := range prop.WithdrawalIDs {
		if err := b.cfg.Ledger.Recover(ns, id); err != nil {
			return err
		}
	}
	if err := deleteProposal(ns, chain); err != nil {
		return err
	}

	log.Infof("Chain %v proposal dropped, %d withdrawals recovered",
		chain, len(prop.WithdrawalIDs))
	b.cfg.Events.Record(ProposalDroppedEvent{
		Chain:         chain,
		WithdrawalIDs: prop.WithdrawalIDs,
	})
	return nil
}

// FinishConfirmed reconciles a confirmed hot custody spend with the
// live proposal.  On a match every proposed withdrawal finishes, the
// locked funds burn and the proposal retires; the returned amount is
// the settled total used for signer reward attribution.  On a mismatch
// the proposal is kept, a critical event is recorded and matched is
// false: an unexpected custody spend must never pass silently.
func (b *Builder) FinishConfirmed(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, tx *wire.MsgTx) (uint64, bool, error) {

	prop, err := fetchProposal(ns, chain)
	if err != nil {
		return 0, false, err
	}

	confirmedHash := tx.TxHash()
	matched := prop.FinalHash != nil && *prop.FinalHash == confirmedHash
	if !matched {
		// The confirmation can arrive before the final hash was
		// pinned; fall back to structural identity.
		matched = sameStructure(prop.Packet.UnsignedTx, tx)
	}
	if !matched {
		expected := prop.Packet.UnsignedTx.TxHash()
		if prop.FinalHash != nil {
			expected = *prop.FinalHash
		}
		log.Criticalf("Chain %v confirmed custody spend %v does not "+
			"match live proposal %v", chain, confirmedHash, expected)
		b.cfg.Events.Record(ProposalMismatchEvent{
			Chain:    chain,
			Expected: expected,
			Got:      confirmedHash,
		})
		return 0, false, nil
	}

	var settled uint64
	for _, id := range prop.WithdrawalIDs {
		rec, err := b.cfg.Ledger.Record(ns, id)
		if err != nil {
			return 0, false, err
		}
		if err := b.cfg.Ledger.Finish(ns, id); err != nil {
			return 0, false, err
		}
		settled += rec.Amount
	}
	if err := deleteProposal(ns, chain); err != nil {
		return 0, false, err
	}

	log.Infof("Chain %v proposal settled by %v: %d withdrawals, %d total",
		chain, confirmedHash, len(prop.WithdrawalIDs), settled)
	b.cfg.Events.Record(ProposalSettledEvent{
		Chain:         chain,
		WithdrawalIDs: prop.WithdrawalIDs,
		Settled:       settled,
		TxHash:        confirmedHash,
	})
	return settled, true, nil
}
