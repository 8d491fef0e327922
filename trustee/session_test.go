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

func TestRotateElectsFromPool(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		info, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)

		require.Equal(t, uint32(0), info.Number)
		require.Equal(t, uint32(3), info.Threshold)
		require.Equal(t, h.pool[:4], staticMembers(info.Accounts()))
		require.NotEmpty(t, info.HotAddress)
		require.NotEmpty(t, info.ColdAddress)
		require.Equal(t, uint32(100), info.StartHeight)
		require.Zero(t, info.EndHeight)

		// The first session has no funds to move, so no transition
		// opens.
		require.False(t, h.mgr.TransitionInProgress(ns, gateway.Dogecoin))

		current, err := h.mgr.CurrentSession(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Equal(t, info, current)

		meta, err := DecodeScriptMeta(info.ScriptMeta)
		require.NoError(t, err)
		require.Equal(t, uint32(3), meta.Threshold)
		require.Len(t, meta.Signers, 4)
		return nil
	})

	var changed []TrusteeSetChangedEvent
	for _, ev := range h.events.Events {
		if e, ok := ev.(TrusteeSetChangedEvent); ok {
			changed = append(changed, e)
		}
	}
	require.Len(t, changed, 1)
	require.Equal(t, h.pool[:4], staticMembers(changed[0].Incoming))
	require.Empty(t, changed[0].Outgoing)
}

func TestRotateInsufficientMembers(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 3)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.True(t, IsError(err, ErrMembersNotEnough))

		_, err = h.mgr.CurrentSession(ns, gateway.Dogecoin)
		require.True(t, IsError(err, ErrSessionNotExists))
		return nil
	})
}

func TestRotateSkipsBlacklisted(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		err := h.mgr.MoveToBlacklist(ns, gateway.Dogecoin, h.pool[0])
		require.NoError(t, err)

		info, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)
		require.Equal(t, h.pool[1:5], staticMembers(info.Accounts()))

		blacklisted, err := h.mgr.Blacklist(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Equal(t, []gateway.AccountID{h.pool[0]}, blacklisted)
		return nil
	})
}

func TestTransitionLifecycle(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)

		// Rotating to a different set opens a custody transition.
		next := append([]gateway.AccountID(nil), h.pool[1:5]...)
		info, err := h.mgr.Rotate(ns, gateway.Dogecoin, next, 200)
		require.NoError(t, err)
		require.Equal(t, uint32(1), info.Number)
		require.True(t, h.mgr.TransitionInProgress(ns, gateway.Dogecoin))

		// No further rotation until the transition closes.
		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, nil, 201)
		require.True(t, IsError(err, ErrLastTransitionNotCompleted))

		// Accrue signing weight for two outgoing members, then close.
		cb, err := chainBucket(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.NoError(t, putSigRecord(cb, h.pool[0], 30))
		require.NoError(t, putSigRecord(cb, h.pool[1], 70))

		err = h.mgr.CloseTransition(ns, gateway.Dogecoin, 210)
		require.NoError(t, err)
		require.False(t, h.mgr.TransitionInProgress(ns, gateway.Dogecoin))

		// The ended session carries the archived weights and the end
		// height.
		ended, err := h.mgr.LastSession(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Equal(t, uint32(0), ended.Number)
		require.Equal(t, uint32(210), ended.EndHeight)
		require.Equal(t, uint64(30), ended.Trustees[0].Weight)
		require.Equal(t, uint64(70), ended.Trustees[1].Weight)
		require.Zero(t, ended.Trustees[2].Weight)

		// Signature records reset for the new session.
		require.Zero(t, fetchSigRecord(cb, h.pool[0]))

		// Closing again fails.
		err = h.mgr.CloseTransition(ns, gateway.Dogecoin, 211)
		require.True(t, IsError(err, ErrInvalidSessionNumber))
		return nil
	})
}

func TestRotateIdenticalSetRejected(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		info, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)

		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, nil, 101)
		require.True(t, IsError(err, ErrMembersNotEnough))

		// A reordering of the live members is the same set: it must
		// not mint a new session or raise the transition flag.
		reordered := []gateway.AccountID{
			h.pool[1], h.pool[0], h.pool[2], h.pool[3],
		}
		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, reordered, 102)
		require.True(t, IsError(err, ErrMembersNotEnough))

		count, err := h.mgr.SessionCount(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Equal(t, uint32(1), count)
		require.False(t, h.mgr.TransitionInProgress(ns, gateway.Dogecoin))

		current, err := h.mgr.CurrentSession(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Equal(t, info.HotAddress, current.HotAddress)
		return nil
	})
}

func TestRotateDuplicateCandidateRejected(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		candidates := []gateway.AccountID{
			h.pool[0], h.pool[1], h.pool[2], h.pool[0],
		}
		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, candidates, 100)
		require.True(t, IsError(err, ErrDuplicatedAccount))

		// Nothing committed.
		count, err := h.mgr.SessionCount(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Zero(t, count)
		_, err = h.mgr.CurrentSession(ns, gateway.Dogecoin)
		require.True(t, IsError(err, ErrSessionNotExists))
		return nil
	})
}

func TestForceCloseTransition(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)
		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, h.pool[1:5], 200)
		require.NoError(t, err)
		require.True(t, h.mgr.TransitionInProgress(ns, gateway.Dogecoin))

		cb, err := chainBucket(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.NoError(t, putSigRecord(cb, h.pool[0], 30))

		err = h.mgr.ForceCloseTransition(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.False(t, h.mgr.TransitionInProgress(ns, gateway.Dogecoin))

		// Force closing forfeits the archived weights.
		ended, err := h.mgr.LastSession(ns, gateway.Dogecoin)
		require.NoError(t, err)
		require.Zero(t, ended.EndHeight)
		require.Zero(t, ended.Trustees[0].Weight)
		require.Zero(t, fetchSigRecord(cb, h.pool[0]))
		return nil
	})
}

func TestSetupTrusteeGating(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)
	outsider := testAccount(42)
	hot := testKey(42).PubKey().SerializeCompressed()
	cold := testKey(142).PubKey().SerializeCompressed()

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		// Accounts outside the pool cannot register.
		err := h.mgr.SetupTrustee(
			ns, gateway.Dogecoin, outsider, nil, "", hot, cold,
		)
		require.True(t, IsError(err, ErrNotPreselectedMember))

		// Blacklisted accounts may still re-register.
		err = h.mgr.MoveToBlacklist(ns, gateway.Dogecoin, outsider)
		require.NoError(t, err)
		err = h.mgr.SetupTrustee(
			ns, gateway.Dogecoin, outsider, nil, "", hot, cold,
		)
		require.NoError(t, err)

		// Members of the live session cannot change their keys.
		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)
		err = h.mgr.SetupTrustee(
			ns, gateway.Dogecoin, h.pool[0], nil, "", hot, cold,
		)
		require.True(t, IsError(err, ErrExistCurrentTrustee))

		// Nobody can register during an open transition.
		_, err = h.mgr.Rotate(ns, gateway.Dogecoin, h.pool[1:5], 200)
		require.NoError(t, err)
		err = h.mgr.SetupTrustee(
			ns, gateway.Dogecoin, h.pool[4], nil, "", hot, cold,
		)
		require.True(t, IsError(err, ErrLastTransitionNotCompleted))
		return nil
	})
}

// TestCustodyAccountCollision checks that the shared custody index
// rejects a second session deriving the same joint account, even on a
// different chain.
func TestCustodyAccountCollision(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)

	// Register the same trustees for Bitcoin with the same proxies.
	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		for i := 0; i < 5; i++ {
			hot := testKey(byte(i + 1)).PubKey().SerializeCompressed()
			cold := testKey(byte(101 + i)).PubKey().SerializeCompressed()
			err := h.mgr.SetupTrustee(
				ns, gateway.Bitcoin, h.pool[i], nil, "", hot, cold,
			)
			require.NoError(t, err)
		}

		_, err := h.mgr.Rotate(ns, gateway.Dogecoin, nil, 100)
		require.NoError(t, err)

		_, err = h.mgr.Rotate(ns, gateway.Bitcoin, nil, 100)
		require.True(t, IsError(err, ErrInvalidMultisig))
		return nil
	})
}

func TestAdminSettings(t *testing.T) {
	h := newTestHarness(t, gateway.Dogecoin, 5)
	admin := testAccount(7)

	update(t, h.db, func(ns walletdb.ReadWriteBucket) error {
		_, ok := h.mgr.Admin(ns)
		require.False(t, ok)
		require.Equal(t, uint64(defaultAdminMultiplier),
			h.mgr.AdminMultiplier(ns))

		require.NoError(t, h.mgr.SetAdmin(ns, admin))
		got, ok := h.mgr.Admin(ns)
		require.True(t, ok)
		require.Equal(t, admin, got)

		err := h.mgr.SetAdminMultiplier(ns, 9)
		require.True(t, IsError(err, ErrInvalidMultiAccount))
		require.NoError(t, h.mgr.SetAdminMultiplier(ns, 15))
		require.Equal(t, uint64(15), h.mgr.AdminMultiplier(ns))

		require.NoError(t, h.mgr.RemoveAdmin(ns))
		_, ok = h.mgr.Admin(ns)
		require.False(t, ok)
		return nil
	})
}
