// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

// TrusteeRewardEvent is recorded for each trustee paid out of an ended
// session's custody account.
type TrusteeRewardEvent struct {
	Chain        gateway.Chain
	Session      uint32
	Account      gateway.AccountID
	NativeAmount uint64
	AssetAmount  uint64
}

// RewardDistributorConfig bundles the dependencies of a reward
// distributor.
type RewardDistributorConfig struct {
	// Sessions provides session lookup and the admin settings.
	Sessions *SessionManager

	// Ledger is the host asset ledger holding pegged asset rewards.
	Ledger gateway.AssetLedger

	// Currency is the host native token holding fee rewards.
	Currency gateway.Currency

	// Assets maps each chain to its pegged asset.
	Assets map[gateway.Chain]gateway.AssetID

	// Events receives domain events.  Nil discards them.
	Events gateway.EventSink
}

// RewardDistributor pays the balances accumulated on an ended session's
// custody account out to its members, proportionally to the signing
// weight each member earned during the session.
type RewardDistributor struct {
	cfg RewardDistributorConfig
}

// NewRewardDistributor creates a reward distributor from the given
// config.
func NewRewardDistributor(cfg RewardDistributorConfig) *RewardDistributor {
	if cfg.Events == nil {
		cfg.Events = gateway.DiscardEvents
	}
	return &RewardDistributor{cfg: cfg}
}

// proportionalShare computes floor(total * weight / totalWeight)
// without intermediate overflow.  weight must not exceed totalWeight.
func proportionalShare(total, weight, totalWeight uint64) uint64 {
	hi, lo := bits.Mul64(total, weight)
	share, _ := bits.Div64(hi, lo, totalWeight)
	return share
}

// splitByWeight splits total across the weights.  Every member but the
// last receives the floor of its proportional share; the last member
// receives the remainder so the split is exact.
func splitByWeight(total uint64, weights []uint64,
	totalWeight uint64) []uint64 {

	shares := make([]uint64, len(weights))
	var paid uint64
	for i := 0; i < len(weights)-1; i++ {
		shares[i] = proportionalShare(total, weights[i], totalWeight)
		paid += shares[i]
	}
	shares[len(shares)-1] = total - paid
	return shares
}

// sessionWeights returns the archived signing weights of the session
// with the admin multiplier applied, plus their sum.
func (d *RewardDistributor) sessionWeights(ns walletdb.ReadWriteBucket,
	session *SessionInfo) ([]uint64, uint64) {

	admin, hasAdmin := fetchAdmin(ns)
	multiplier := fetchAdminMultiplier(ns)

	weights := make([]uint64, len(session.Trustees))
	var total uint64
	for i, t := range session.Trustees {
		w := t.Weight
		if hasAdmin && t.Account == admin {
			w = w * multiplier / 10
		}
		weights[i] = w
		total += w
	}
	return weights, total
}

// ClaimReward distributes the native and pegged asset balances held by
// an ended session's custody account to the session members.  Shares
// are proportional to archived signing weight, with the trustee admin's
// weight scaled by the admin multiplier.  Only a member of the session
// may trigger the claim.
func (d *RewardDistributor) ClaimReward(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, number uint32, claimer gateway.AccountID) error {

	session, err := d.cfg.Sessions.SessionAt(ns, chain, number)
	if err != nil {
		return err
	}
	if session.EndHeight == 0 {
		str := fmt.Sprintf("session %d is still live", number)
		return newError(ErrInvalidSessionNumber, str, nil)
	}
	if !session.IsMember(claimer) {
		str := fmt.Sprintf("account %v is not a member of session %d",
			claimer, number)
		return newError(ErrInvalidMultiAccount, str, nil)
	}

	weights, totalWeight := d.sessionWeights(ns, session)
	if totalWeight == 0 {
		str := fmt.Sprintf("session %d has no signing weight", number)
		return newError(ErrNotMultiSigCount, str, nil)
	}

	nativePot := d.cfg.Currency.Balance(session.CustodyAccount)
	var assetPot uint64
	asset, hasAsset := d.cfg.Assets[chain]
	if hasAsset {
		assetPot = d.cfg.Ledger.Balance(asset, session.CustodyAccount)
	}
	if nativePot == 0 && assetPot == 0 {
		return nil
	}

	var nativeShares, assetShares []uint64
	if nativePot > 0 {
		nativeShares = splitByWeight(nativePot, weights, totalWeight)
	}
	if assetPot > 0 {
		assetShares = splitByWeight(assetPot, weights, totalWeight)
	}

	for i, t := range session.Trustees {
		var native, pegged uint64
		if nativeShares != nil {
			native = nativeShares[i]
		}
		if assetShares != nil {
			pegged = assetShares[i]
		}
		if native > 0 {
			err := d.cfg.Currency.Transfer(
				session.CustodyAccount, t.Account, native,
			)
			if err != nil {
				return newError(ErrDatabase,
					"failed to transfer native reward", err)
			}
		}
		if pegged > 0 {
			err := d.cfg.Ledger.Transfer(
				asset, session.CustodyAccount, t.Account, pegged,
			)
			if err != nil {
				return newError(ErrDatabase,
					"failed to transfer asset reward", err)
			}
		}
		if native > 0 || pegged > 0 {
			d.cfg.Events.Record(TrusteeRewardEvent{
				Chain:        chain,
				Session:      number,
				Account:      t.Account,
				NativeAmount: native,
				AssetAmount:  pegged,
			})
		}
	}

	log.Infof("Chain %v session %d rewards claimed by %v: native %d, "+
		"asset %d", chain, number, claimer, nativePot, assetPot)
	return nil
}
