// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdetect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pegbridge/pegbridge/gateway"
)

func TestExtractOpReturn(t *testing.T) {
	var account, referral gateway.AccountID
	for i := range account {
		account[i] = 0xaa
		referral[i] = 0xbb
	}

	var extractor OpReturnExtractor

	// Hex encoded account.
	got, ref, ok := extractor.Extract([]byte(account.String()))
	require.True(t, ok)
	require.Equal(t, account, got)
	require.Nil(t, ref)

	// Hex account with hex referral.
	payload := []byte(account.String() + "@" + referral.String())
	got, ref, ok = extractor.Extract(payload)
	require.True(t, ok)
	require.Equal(t, account, got)
	require.NotNil(t, ref)
	require.Equal(t, referral, *ref)

	// Raw 32 byte account, includes the separator byte.
	raw := account
	raw[4] = '@'
	got, ref, ok = extractor.Extract(raw[:])
	require.True(t, ok)
	require.Equal(t, raw, got)
	require.Nil(t, ref)

	// Surrounding whitespace is tolerated.
	got, _, ok = extractor.Extract([]byte(" " + account.String() + "\n"))
	require.True(t, ok)
	require.Equal(t, account, got)

	// A malformed referral is dropped, not fatal.
	got, ref, ok = extractor.Extract([]byte(account.String() + "@bogus"))
	require.True(t, ok)
	require.Equal(t, account, got)
	require.Nil(t, ref)

	// Malformed accounts fail extraction.
	for _, payload := range [][]byte{
		nil,
		[]byte(""),
		[]byte("bogus"),
		[]byte("@" + referral.String()),
		[]byte(account.String()[:40]),
	} {
		_, _, ok := extractor.Extract(payload)
		require.False(t, ok, "payload %q", payload)
	}
}
