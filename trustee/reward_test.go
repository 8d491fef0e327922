// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"testing"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
)

// endedSession rotates twice and archives the given weights for the
// members of session 0, returning the distributor and session 0 itself.
func endedSession(t *testing.T, h *testHarness,
	weights []uint64) (*RewardDistributor, *SessionInfo) {

	t.Helper()

	dist := NewRewardDistributor(RewardDistributorConfig{
		Sessions: h.mgr,
		Ledger:   h.ledger,
		Currency: h.currency,
		Assets: map[gateway.Chain]gateway.AssetID{
			gateway.Dogecoin: testDogeAsset,
		},
		Events: h.events,
	})

	var ended *SessionInfo
	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)
		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, h.pool[1:5], 200)
		require.NoError(t, err)

		cb, err := chainBucket(ns, gateway.Dogecoin)
		require.NoError(t, err)
		for i, w := range weights {
			require.NoError(t, putSigRecord(cb, h.pool[i], w))
		}
		require.NoError(t, h.mgr.CloseTransition(ns, gateway.Dogecoin, 210))

		ended, err = h.mgr.LastSession(ns, gateway.Dogecoin)
		require.NoError(t, err)
		return nil
	})
	return dist, ended
}

func TestClaimRewardProportional(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)
	dist, ended := endedSession(t, h, []uint64{10, 20, 30, 40})

	h.currency.Deposit(ended.CustodyAccount, 1000)
	require.NoError(t, h.ledger.Mint(testDogeAsset, ended.CustodyAccount, 777))

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		err := dist.ClaimReward(ns, gateway.Dogecoin, 0, h.pool[0])
		require.NoError(t, err)
		return nil
	})

	// Native pot splits exactly along the 10/20/30/40 weights.
	require.Equal(t, uint64(100), h.currency.Balance(h.pool[0]))
	require.Equal(t, uint64(200), h.currency.Balance(h.pool[1]))
	require.Equal(t, uint64(300), h.currency.Balance(h.pool[2]))
	require.Equal(t, uint64(400), h.currency.Balance(h.pool[3]))
	require.Zero(t, h.currency.Balance(ended.CustodyAccount))

	// The asset pot rounds down per member with the remainder paid to
	// the last member: floor(777*w/100) gives 77, 155, 233 and the
	// last member collects 777-465 = 312.
	require.Equal(t, uint64(77), h.ledger.Balance(testDogeAsset, h.pool[0]))
	require.Equal(t, uint64(155), h.ledger.Balance(testDogeAsset, h.pool[1]))
	require.Equal(t, uint64(233), h.ledger.Balance(testDogeAsset, h.pool[2]))
	require.Equal(t, uint64(312), h.ledger.Balance(testDogeAsset, h.pool[3]))
	require.Zero(t, h.ledger.Balance(testDogeAsset, ended.CustodyAccount))
}

func TestClaimRewardAdminMultiplier(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	dist, ended := endedSession(t, h, []uint64{10, 20, 30, 40})

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		// The admin's weight of 20 counts as 20*11/10 = 22, raising
		// the total weight to 102.
		return h.mgr.SetAdmin(ns, h.pool[1])
	})

	h.currency.Deposit(ended.CustodyAccount, 1000)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		return dist.ClaimReward(ns, gateway.Dogecoin, 0, h.pool[1])
	})

	require.Equal(t, uint64(1000*10/102), h.currency.Balance(h.pool[0]))
	require.Equal(t, uint64(1000*22/102), h.currency.Balance(h.pool[1]))
	require.Equal(t, uint64(1000*30/102), h.currency.Balance(h.pool[2]))
	paid := 1000*10/102 + 1000*22/102 + 1000*30/102
	require.Equal(t, uint64(1000-paid), h.currency.Balance(h.pool[3]))
}

func TestClaimRewardGuards(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)
	dist, ended := endedSession(t, h, nil)

	h.currency.Deposit(ended.CustodyAccount, 1000)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		// No signing weight was archived, so there is nothing to
		// divide by.
		err := dist.ClaimReward(ns, gateway.Dogecoin, 0, h.pool[0])
		require.True(t, IsError(err, ErrNotMultiSigCount))

		// The live session cannot be claimed.
		err = dist.ClaimReward(ns, gateway.Dogecoin, 1, h.pool[1])
		require.True(t, IsError(err, ErrInvalidSessionNumber))

		// Only members may claim.
		err = dist.ClaimReward(ns, gateway.Dogecoin, 0, testAccount(42))
		require.True(t, IsError(err, ErrInvalidMultiAccount))

		// Unknown session.
		err = dist.ClaimReward(ns, gateway.Dogecoin, 9, h.pool[0])
		require.True(t, IsError(err, ErrSessionNotExists))
		return nil
	})
}

func TestClaimRewardEmptyPot(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)
	dist, _ := endedSession(t, h, []uint64{1, 1, 1, 1})

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		// Claiming with empty custody balances is a no-op.
		return dist.ClaimReward(ns, gateway.Dogecoin, 0, h.pool[0])
	})
	require.Zero(t, h.currency.Balance(h.pool[0]))
}

func TestSplitByWeight(t *testing.T) {
	tests := []struct {
		name    string
		total   uint64
		weights []uint64
		want    []uint64
	}{
		{
			name:    "exact split",
			total:   100,
			weights: []uint64{25, 25, 50},
			want:    []uint64{25, 25, 50},
		},
		{
			name:    "remainder to last",
			total:   100,
			weights: []uint64{1, 1, 1},
			want:    []uint64{33, 33, 34},
		},
		{
			name:    "zero weight member",
			total:   90,
			weights: []uint64{0, 45, 45},
			want:    []uint64{0, 45, 45},
		},
		{
			name:    "single member",
			total:   7,
			weights: []uint64{3},
			want:    []uint64{7},
		},
	}

	for _, test := range tests {
		var totalWeight uint64
		for _, w := range test.weights {
			totalWeight += w
		}
		got := splitByWeight(test.total, test.weights, totalWeight)
		require.Equal(t, test.want, got, test.name)
	}
}
