// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdetect

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/pegbridge/pegbridge/netparams"
)

// TxType classifies an external chain transaction by its relevance to
// the bridge.
type TxType uint8

const (
	// TxWithdrawal is a spend from the hot custody address paying
	// withdrawal requests.
	TxWithdrawal TxType = iota

	// TxDeposit is a payment into the hot custody address.
	TxDeposit

	// TxHotAndCold is an internal transfer between the live session's
	// hot and cold custody addresses.
	TxHotAndCold

	// TxTrusteeTransition moves custody funds from an outgoing trustee
	// session to the live one.
	TxTrusteeTransition

	// TxIrrelevance is any transaction the bridge does not care about.
	TxIrrelevance
)

// String returns the TxType as a human-readable name.
func (t TxType) String() string {
	switch t {
	case TxWithdrawal:
		return "Withdrawal"
	case TxDeposit:
		return "Deposit"
	case TxHotAndCold:
		return "HotAndCold"
	case TxTrusteeTransition:
		return "TrusteeTransition"
	case TxIrrelevance:
		return "Irrelevance"
	default:
		return "Unknown"
	}
}

// CustodyAddrs is the hot and cold custody address pair of one trustee
// session.
type CustodyAddrs struct {
	Hot  string
	Cold string
}

// contains reports whether addr is one of the pair.
func (c CustodyAddrs) contains(addr string) bool {
	return addr != "" && (addr == c.Hot || addr == c.Cold)
}

// Classification is the result of examining one transaction.
type Classification struct {
	// Type is the detected transaction type.
	Type TxType

	// DepositValue is the total value paid to the hot custody address.
	// It is only set for deposits.
	DepositValue uint64

	// OpReturn is the payload of the first OP_RETURN output, if any.
	OpReturn []byte

	// InputAddr is the address funding the transaction's first input,
	// when the previous transaction was supplied and the script is a
	// standard form.
	InputAddr string
}

// Detector classifies external chain transactions against the custody
// addresses of the live and outgoing trustee sessions.
type Detector struct {
	net        *netparams.Params
	minDeposit uint64
}

// NewDetector creates a detector for the given network.  Deposits below
// minDeposit are treated as irrelevant.
func NewDetector(net *netparams.Params, minDeposit uint64) *Detector {
	return &Detector{net: net, minDeposit: minDeposit}
}

// outputAddr extracts the address of a standard output script, or the
// empty string when the script has no single address form.
func (d *Detector) outputAddr(pkScript []byte) string {
	_, addrs, required, err := txscript.ExtractPkScriptAddrs(
		pkScript, d.net.Params,
	)
	if err != nil || required > 1 || len(addrs) != 1 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

// inputAddr resolves the address that funded the first input of tx
// using the supplied previous transaction.
func (d *Detector) inputAddr(tx, prevTx *wire.MsgTx) (string, error) {
	if prevTx == nil || len(tx.TxIn) == 0 {
		return "", nil
	}
	outPoint := tx.TxIn[0].PreviousOutPoint
	if prevTx.TxHash() != outPoint.Hash {
		return "", newError(ErrBadPrevTx,
			"previous tx does not match the spent outpoint", nil)
	}
	if int(outPoint.Index) >= len(prevTx.TxOut) {
		return "", newError(ErrBadPrevTx,
			"spent outpoint index out of range", nil)
	}
	return d.outputAddr(prevTx.TxOut[outPoint.Index].PkScript), nil
}

// opReturnPayload returns the pushed data of an OP_RETURN script.
func opReturnPayload(pkScript []byte) ([]byte, bool) {
	if txscript.GetScriptClass(pkScript) != txscript.NullDataTy {
		return nil, false
	}
	pushes, err := txscript.PushedData(pkScript)
	if err != nil || len(pushes) == 0 {
		return nil, false
	}
	return pushes[0], true
}

// Classify determines the bridge relevance of tx.  prevTx, when
// non-nil, must be the transaction funding tx's first input; it lets
// spends out of custody be recognized.  previous carries the custody
// addresses of the outgoing session while a trustee transition is in
// flight, and nil otherwise.
//
// Spends funded by a custody address are classified before deposit
// detection.  A withdrawal routinely pays change back to the hot
// address, so an output-first reading would misread it as a deposit.
func (d *Detector) Classify(tx, prevTx *wire.MsgTx, current CustodyAddrs,
	previous *CustodyAddrs) (*Classification, error) {

	inputAddr, err := d.inputAddr(tx, prevTx)
	if err != nil {
		return nil, err
	}

	result := &Classification{Type: TxIrrelevance, InputAddr: inputAddr}

	var (
		hotValue    uint64
		allTrustee  = true
		haveOutputs bool
	)
	for _, txOut := range tx.TxOut {
		if payload, ok := opReturnPayload(txOut.PkScript); ok {
			if result.OpReturn == nil {
				result.OpReturn = payload
			}
			continue
		}
		haveOutputs = true
		addr := d.outputAddr(txOut.PkScript)
		if addr == current.Hot {
			hotValue += uint64(txOut.Value)
		}
		if !current.contains(addr) {
			allTrustee = false
		}
	}

	if current.contains(inputAddr) {
		if allTrustee && haveOutputs {
			result.Type = TxHotAndCold
			return result, nil
		}
		if inputAddr == current.Hot {
			result.Type = TxWithdrawal
			return result, nil
		}
		// A cold custody spend leaving the trustee set is not a
		// recognized flow.
		return result, nil
	}
	if previous != nil && previous.contains(inputAddr) {
		if allTrustee && haveOutputs {
			result.Type = TxTrusteeTransition
		}
		return result, nil
	}

	if hotValue >= d.minDeposit && hotValue > 0 {
		result.Type = TxDeposit
		result.DepositValue = hotValue
	}
	return result, nil
}
