// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
)

func TestSetupPropsValidation(t *testing.T) {
	db := openTestDB(t)
	registry := NewRegistry(nil)
	account := testAccount(1)
	hot := testKey(1).PubKey().SerializeCompressed()
	cold := testKey(2).PubKey().SerializeCompressed()

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		// Truncated key.
		err := registry.SetupProps(
			ns, gateway.Dogecoin, account, nil, "", hot[:10], cold,
		)
		require.True(t, IsError(err, ErrInvalidPublicKey))

		// Point not on the curve.
		notOnCurve, _ := hex.DecodeString(
			"020000000000000000000000000000000000000000000000000" +
				"000000000000000")
		err = registry.SetupProps(
			ns, gateway.Dogecoin, account, nil, "", hot, notOnCurve,
		)
		require.True(t, IsError(err, ErrInvalidPublicKey))

		// Oversized about text.
		err = registry.SetupProps(
			ns, gateway.Dogecoin, account, nil,
			strings.Repeat("x", maxAboutLength+1), hot, cold,
		)
		require.True(t, IsError(err, ErrInvalidAbout))

		// Markup in the about text.
		err = registry.SetupProps(
			ns, gateway.Dogecoin, account, nil, "a<b", hot, cold,
		)
		require.True(t, IsError(err, ErrInvalidAbout))

		// A bare script substring is rejected even without brackets.
		err = registry.SetupProps(
			ns, gateway.Dogecoin, account, nil, "runs a script", hot, cold,
		)
		require.True(t, IsError(err, ErrInvalidAbout))

		return nil
	})
}

// TestSetupPropsNormalizesKeys checks that uncompressed keys are
// accepted and stored compressed.
func TestSetupPropsNormalizesKeys(t *testing.T) {
	db := openTestDB(t)
	registry := NewRegistry(nil)
	account := testAccount(1)

	uncompressed := testKey(1).PubKey().SerializeUncompressed()
	compressed := testKey(1).PubKey().SerializeCompressed()
	cold := testKey(2).PubKey().SerializeCompressed()

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		err := registry.SetupProps(
			ns, gateway.Dogecoin, account, nil, "hello", uncompressed,
			cold,
		)
		require.NoError(t, err)

		props, err := registry.Props(ns, gateway.Dogecoin, account)
		require.NoError(t, err)
		require.Equal(t, compressed, props.HotKey)
		require.Equal(t, cold, props.ColdKey)
		require.Equal(t, "hello", props.About)

		// The proxy defaults to the trustee itself.
		require.NotNil(t, props.Proxy)
		require.Equal(t, account, *props.Proxy)
		return nil
	})
}

func TestSetProxy(t *testing.T) {
	db := openTestDB(t)
	registry := NewRegistry(nil)
	account := testAccount(1)
	proxy := testAccount(9)
	hot := testKey(1).PubKey().SerializeCompressed()
	cold := testKey(2).PubKey().SerializeCompressed()

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		// Unregistered accounts cannot set a proxy.
		err := registry.SetProxy(ns, gateway.Dogecoin, account, proxy)
		require.True(t, IsError(err, ErrNotRegistered))

		err = registry.SetupProps(
			ns, gateway.Dogecoin, account, nil, "", hot, cold,
		)
		require.NoError(t, err)
		require.True(t, registry.Registered(ns, gateway.Dogecoin, account))

		err = registry.SetProxy(ns, gateway.Dogecoin, account, proxy)
		require.NoError(t, err)

		props, err := registry.Props(ns, gateway.Dogecoin, account)
		require.NoError(t, err)
		require.Equal(t, proxy, *props.Proxy)

		// Registration is per chain.
		require.False(t, registry.Registered(ns, gateway.Bitcoin, account))
		return nil
	})
}
