// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
)

const (
	// maxAboutLength is the maximum byte length of a trustee's about
	// text.
	maxAboutLength = 128
)

// IntentionProps holds the registration of one trustee candidate for
// one chain: the key material it will custody with plus presentation
// details.
type IntentionProps struct {
	// Proxy is the account that acts on the trustee's behalf.  It
	// defaults to the trustee's own account.
	Proxy *gateway.AccountID

	// About is a short self description.
	About string

	// HotKey is the trustee's hot custody public key, serialized
	// compressed.
	HotKey []byte

	// ColdKey is the trustee's cold custody public key, serialized
	// compressed.
	ColdKey []byte
}

// SetTrusteePropsEvent is recorded when a trustee candidate registers or
// updates its intention properties.
type SetTrusteePropsEvent struct {
	Account gateway.AccountID
	Chain   gateway.Chain
}

// SetTrusteeProxyEvent is recorded when a trustee changes its proxy
// account.
type SetTrusteeProxyEvent struct {
	Account gateway.AccountID
	Chain   gateway.Chain
	Proxy   gateway.AccountID
}

// Registry stores trustee intention properties and validates
// registration inputs.  Eligibility gating lives in the session
// manager, which owns the blacklist and the member pool.
type Registry struct {
	events gateway.EventSink
}

// NewRegistry creates a trustee registry recording events to the given
// sink.
func NewRegistry(events gateway.EventSink) *Registry {
	if events == nil {
		events = gateway.DiscardEvents
	}
	return &Registry{events: events}
}

// validateAbout rejects oversized or markup-bearing about texts.
func validateAbout(about string) error {
	if len(about) > maxAboutLength {
		str := fmt.Sprintf("about text is %d bytes, max %d", len(about),
			maxAboutLength)
		return newError(ErrInvalidAbout, str, nil)
	}
	if bytes.ContainsAny([]byte(about), "<>") ||
		strings.Contains(about, "script") {

		return newError(ErrInvalidAbout,
			"about text contains forbidden markup", nil)
	}
	return nil
}

// validateTrusteeKey parses a trustee public key and returns its
// compressed serialization.  Both compressed and uncompressed encodings
// are accepted on the way in.
func validateTrusteeKey(key []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(key)
	if err != nil {
		return nil, newError(ErrInvalidPublicKey,
			"invalid trustee public key", err)
	}
	return pub.SerializeCompressed(), nil
}

// SetupProps validates and stores the intention properties of a trustee
// candidate.  A nil proxy defaults to the candidate's own account.
func (r *Registry) SetupProps(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, account gateway.AccountID,
	proxy *gateway.AccountID, about string, hotKey, coldKey []byte) error {

	if err := validateAbout(about); err != nil {
		return err
	}
	hot, err := validateTrusteeKey(hotKey)
	if err != nil {
		return err
	}
	cold, err := validateTrusteeKey(coldKey)
	if err != nil {
		return err
	}

	if proxy == nil {
		self := account
		proxy = &self
	}

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	props := &IntentionProps{
		Proxy:   proxy,
		About:   about,
		HotKey:  hot,
		ColdKey: cold,
	}
	if err := putIntentionProps(cb, account, props); err != nil {
		return err
	}

	log.Debugf("Trustee %v set props for chain %v", account, chain)
	r.events.Record(SetTrusteePropsEvent{Account: account, Chain: chain})
	return nil
}

// SetProxy updates the proxy account of a registered trustee.
func (r *Registry) SetProxy(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	account, proxy gateway.AccountID) error {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	props, err := fetchIntentionProps(cb, account)
	if err != nil {
		return err
	}
	props.Proxy = &proxy
	if err := putIntentionProps(cb, account, props); err != nil {
		return err
	}

	r.events.Record(SetTrusteeProxyEvent{
		Account: account, Chain: chain, Proxy: proxy,
	})
	return nil
}

// Props returns the intention properties of a registered trustee.
func (r *Registry) Props(ns walletdb.ReadWriteBucket, chain gateway.Chain,
	account gateway.AccountID) (*IntentionProps, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	return fetchIntentionProps(cb, account)
}

// Registered reports whether the account has intention properties for
// the chain.
func (r *Registry) Registered(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, account gateway.AccountID) bool {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return false
	}
	return existsIntentionProps(cb, account)
}
