// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package trustee

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcwallet/walletdb"

	"github.com/pegbridge/pegbridge/gateway"
	"github.com/pegbridge/pegbridge/netparams"
)

const (
	// defaultAdminMultiplier is the default reward multiplier of the
	// trustee admin, expressed in tenths.  The default grants the admin
	// 1.1x the weight-proportional share.
	defaultAdminMultiplier = 11
)

// TrusteeWeight pairs a trustee account with its archived signing
// weight for a completed session.
type TrusteeWeight struct {
	// Account is the trustee's host account.
	Account gateway.AccountID

	// Weight is the total settled amount of withdrawals the trustee
	// signed during the session.  It is zero while the session is
	// live and archived when the session ends.
	Weight uint64
}

// SessionInfo describes one trustee session on one chain.
type SessionInfo struct {
	// Number is the zero-based session number.
	Number uint32

	// Threshold is the number of signatures required to spend from
	// custody.
	Threshold uint32

	// Trustees lists the session members in election order.
	Trustees []TrusteeWeight

	// CustodyAccount is the host account jointly owned by the session.
	CustodyAccount gateway.AccountID

	// HotAddress and ColdAddress are the session's custody addresses
	// on the external chain.
	HotAddress  string
	ColdAddress string

	// HotRedeemScript and ColdRedeemScript are the multisig scripts
	// behind the custody addresses.
	HotRedeemScript  []byte
	ColdRedeemScript []byte

	// StartHeight is the host height the session started at.
	StartHeight uint32

	// EndHeight is the host height the session ended at, or zero while
	// the session is live.
	EndHeight uint32

	// ScriptMeta is the tlv-encoded signer metadata for the session's
	// hot custody script.
	ScriptMeta []byte
}

// Accounts returns the member accounts of the session in order.
func (s *SessionInfo) Accounts() []gateway.AccountID {
	accounts := make([]gateway.AccountID, len(s.Trustees))
	for i, t := range s.Trustees {
		accounts[i] = t.Account
	}
	return accounts
}

// IsMember reports whether the account belongs to the session.
func (s *SessionInfo) IsMember(account gateway.AccountID) bool {
	for _, t := range s.Trustees {
		if t.Account == account {
			return true
		}
	}
	return false
}

// TrusteeSetChangedEvent is recorded when a new trustee session is
// elected.
type TrusteeSetChangedEvent struct {
	Chain    gateway.Chain
	Session  uint32
	Trustees []gateway.AccountID
	Incoming []gateway.AccountID
	Outgoing []gateway.AccountID
}

// TransitionStatusEvent is recorded when the custody transition status
// of a chain changes.
type TransitionStatusEvent struct {
	Chain      gateway.Chain
	InProgress bool
}

// BlacklistEvent is recorded when accounts enter or leave the
// misbehaving trustee blacklist.
type BlacklistEvent struct {
	Chain    gateway.Chain
	Accounts []gateway.AccountID
	Added    bool
}

// AdminChangedEvent is recorded when the trustee admin is set or
// cleared.
type AdminChangedEvent struct {
	Admin *gateway.AccountID
}

// SessionManagerConfig bundles the dependencies of a session manager.
type SessionManagerConfig struct {
	// Nets maps each bridged chain to its network parameters.
	Nets map[gateway.Chain]*netparams.Params

	// Registry validates and stores trustee registrations.
	Registry *Registry

	// Members supplies the ranked pool of election candidates.
	Members gateway.MemberSource

	// DesiredMembers is the target trustee set size per election.
	DesiredMembers int

	// Ledger is the host asset ledger, snapshotted at transitions.
	Ledger gateway.AssetLedger

	// Assets maps each chain to its pegged asset.
	Assets map[gateway.Chain]gateway.AssetID

	// Events receives domain events.  Nil discards them.
	Events gateway.EventSink
}

// SessionManager elects trustee sessions, derives their custody
// addresses and tracks the custody transition lifecycle of each chain.
type SessionManager struct {
	cfg SessionManagerConfig
}

// NewSessionManager creates a session manager from the given config.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Events == nil {
		cfg.Events = gateway.DiscardEvents
	}
	return &SessionManager{cfg: cfg}
}

func (m *SessionManager) net(chain gateway.Chain) (*netparams.Params, error) {
	net, ok := m.cfg.Nets[chain]
	if !ok {
		str := fmt.Sprintf("no network parameters for chain %v", chain)
		return nil, newError(ErrUnsupportedChain, str, nil)
	}
	return net, nil
}

// SetupTrustee registers or updates a trustee candidate.  Candidates
// must belong to the election pool or sit on the blacklist, must not be
// a member of the live session, and cannot register while a custody
// transition is in progress.
func (m *SessionManager) SetupTrustee(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, account gateway.AccountID,
	proxy *gateway.AccountID, about string, hotKey, coldKey []byte) error {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	if fetchTransitionStatus(cb) {
		return newError(ErrLastTransitionNotCompleted,
			"cannot register during a custody transition", nil)
	}

	eligible := isBlacklisted(cb, account)
	if !eligible {
		for _, member := range m.cfg.Members.Members() {
			if member == account {
				eligible = true
				break
			}
		}
	}
	if !eligible {
		str := fmt.Sprintf("account %v is not in the trustee pool", account)
		return newError(ErrNotPreselectedMember, str, nil)
	}

	if count := fetchSessionCount(cb); count > 0 {
		current, err := fetchSessionInfo(cb, count-1)
		if err != nil {
			return err
		}
		if current.IsMember(account) {
			str := fmt.Sprintf("account %v is a live session trustee",
				account)
			return newError(ErrExistCurrentTrustee, str, nil)
		}
	}

	return m.cfg.Registry.SetupProps(
		ns, chain, account, proxy, about, hotKey, coldKey,
	)
}

// electCandidates selects the next trustee set from the ranked member
// pool, skipping blacklisted and unregistered accounts.
func (m *SessionManager) electCandidates(
	cb walletdb.ReadWriteBucket) ([]gateway.AccountID, error) {

	var elected []gateway.AccountID
	for _, member := range m.cfg.Members.Members() {
		if isBlacklisted(cb, member) {
			continue
		}
		if !existsIntentionProps(cb, member) {
			continue
		}
		elected = append(elected, member)
		if len(elected) == m.cfg.DesiredMembers {
			break
		}
	}
	if len(elected) < m.cfg.DesiredMembers {
		str := fmt.Sprintf("elected %d trustees, want %d", len(elected),
			m.cfg.DesiredMembers)
		return nil, newError(ErrMembersNotEnough, str, nil)
	}
	return elected, nil
}

// generateSession builds and stores the next session for the given
// member set: it derives both custody addresses, the joint host custody
// account and the signer metadata, and indexes the hot keys for
// signature attribution.
func (m *SessionManager) generateSession(ns walletdb.ReadWriteBucket,
	cb walletdb.ReadWriteBucket, chain gateway.Chain, number uint32,
	members []gateway.AccountID, height uint32) (*SessionInfo, error) {

	net, err := m.net(chain)
	if err != nil {
		return nil, err
	}

	seen := make(map[gateway.AccountID]struct{}, len(members))
	for _, member := range members {
		if _, ok := seen[member]; ok {
			str := fmt.Sprintf("duplicate trustee account %v", member)
			return nil, newError(ErrDuplicatedAccount, str, nil)
		}
		seen[member] = struct{}{}
	}

	var (
		hotKeys  = make([]*btcec.PublicKey, len(members))
		coldKeys = make([]*btcec.PublicKey, len(members))
		proxies  = make([]gateway.AccountID, len(members))
		signers  = make([]SignerEntry, len(members))
	)
	for i, member := range members {
		props, err := fetchIntentionProps(cb, member)
		if err != nil {
			return nil, err
		}
		if hotKeys[i], err = btcec.ParsePubKey(props.HotKey); err != nil {
			return nil, newError(ErrInvalidPublicKey,
				"stored hot key does not parse", err)
		}
		if coldKeys[i], err = btcec.ParsePubKey(props.ColdKey); err != nil {
			return nil, newError(ErrInvalidPublicKey,
				"stored cold key does not parse", err)
		}
		proxies[i] = *props.Proxy
		signers[i] = SignerEntry{PubKey: props.HotKey, Account: member}
	}

	threshold := SigThreshold(len(members))
	custody, err := DeriveCustody(net, hotKeys, coldKeys, threshold)
	if err != nil {
		return nil, err
	}
	custodyAccount := DeriveCustodyAccount(proxies, uint32(threshold))
	if err := putCustodyAccount(ns, custodyAccount, chain); err != nil {
		return nil, err
	}

	meta := &ScriptMeta{Threshold: uint32(threshold), Signers: signers}
	metaBytes, err := meta.Encode()
	if err != nil {
		return nil, newError(ErrSerialization,
			"failed to encode script metadata", err)
	}

	trustees := make([]TrusteeWeight, len(members))
	for i, member := range members {
		trustees[i] = TrusteeWeight{Account: member}
	}
	info := &SessionInfo{
		Number:           number,
		Threshold:        uint32(threshold),
		Trustees:         trustees,
		CustodyAccount:   custodyAccount,
		HotAddress:       custody.HotAddress,
		ColdAddress:      custody.ColdAddress,
		HotRedeemScript:  custody.HotRedeemScript,
		ColdRedeemScript: custody.ColdRedeemScript,
		StartHeight:      height,
	}
	info.ScriptMeta = metaBytes
	if err := putSessionInfo(cb, info); err != nil {
		return nil, err
	}

	// Reindex hot keys so spends can be attributed to the new set.
	if err := clearHotKeys(cb); err != nil {
		return nil, err
	}
	for i, member := range members {
		if err := putHotKey(cb, signers[i].PubKey, member); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// Rotate elects and installs a new trustee session for the chain.  A
// nil candidate list elects from the member pool; a non-nil list
// installs exactly those members.  Rotation fails while a prior custody
// transition is still open.  When a previous session exists the
// transition status is raised and the pegged asset supply snapshotted,
// so the transfer of custody funds to the new addresses can later be
// verified and settled.
func (m *SessionManager) Rotate(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, candidates []gateway.AccountID,
	height uint32) (*SessionInfo, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	if fetchTransitionStatus(cb) {
		return nil, newError(ErrLastTransitionNotCompleted,
			"previous custody transition has not completed", nil)
	}

	if candidates == nil {
		if candidates, err = m.electCandidates(cb); err != nil {
			return nil, err
		}
	}

	count := fetchSessionCount(cb)
	var (
		previous           *SessionInfo
		incoming, outgoing []gateway.AccountID
	)
	if count > 0 {
		if previous, err = fetchSessionInfo(cb, count-1); err != nil {
			return nil, err
		}
		// Membership is compared as sets: a reordering of the live
		// members is a vacuous election and must not mint a new
		// custody address.
		incoming, outgoing = memberDiff(previous.Accounts(), candidates)
		if len(incoming) == 0 && len(outgoing) == 0 {
			return nil, newError(ErrMembersNotEnough,
				"elected set is identical to the live session", nil)
		}
	}

	info, err := m.generateSession(ns, cb, chain, count, candidates, height)
	if err != nil {
		return nil, err
	}
	if err := putSessionCount(cb, count+1); err != nil {
		return nil, err
	}

	if previous != nil {
		if err := putTransitionStatus(cb, true); err != nil {
			return nil, err
		}
		if asset, ok := m.cfg.Assets[chain]; ok {
			supply := m.cfg.Ledger.TotalSupply(asset)
			if err := putPreTotalSupply(cb, supply); err != nil {
				return nil, err
			}
		}
		m.cfg.Events.Record(TransitionStatusEvent{
			Chain: chain, InProgress: true,
		})
	} else {
		incoming = candidates
	}

	log.Infof("Chain %v trustee session %d elected: %d members, "+
		"threshold %d, hot %s", chain, info.Number, len(info.Trustees),
		info.Threshold, info.HotAddress)
	m.cfg.Events.Record(TrusteeSetChangedEvent{
		Chain:    chain,
		Session:  info.Number,
		Trustees: candidates,
		Incoming: incoming,
		Outgoing: outgoing,
	})
	return info, nil
}

// CloseTransition completes an open custody transition: the outgoing
// session's signing weights are archived from the live signature
// records, its end height is stamped, and the records are reset for the
// new session.
func (m *SessionManager) CloseTransition(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, height uint32) error {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	if !fetchTransitionStatus(cb) {
		return newError(ErrInvalidSessionNumber,
			"no custody transition is in progress", nil)
	}
	count := fetchSessionCount(cb)
	if count < 2 {
		return newError(ErrInvalidSessionNumber,
			"transition status set without a previous session", nil)
	}
	ended, err := fetchSessionInfo(cb, count-2)
	if err != nil {
		return err
	}
	for i := range ended.Trustees {
		ended.Trustees[i].Weight = fetchSigRecord(cb,
			ended.Trustees[i].Account)
	}
	ended.EndHeight = height
	if err := putSessionInfo(cb, ended); err != nil {
		return err
	}
	if err := clearSigRecords(cb); err != nil {
		return err
	}
	if err := putTransitionStatus(cb, false); err != nil {
		return err
	}

	log.Infof("Chain %v custody transition to session %d completed at "+
		"height %d", chain, count-1, height)
	m.cfg.Events.Record(TransitionStatusEvent{Chain: chain})
	return nil
}

// ForceCloseTransition clears a stuck transition without archiving
// signing weights.  It exists as a governance escape hatch and forfeits
// the outgoing session's reward attribution.
func (m *SessionManager) ForceCloseTransition(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) error {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	if err := clearSigRecords(cb); err != nil {
		return err
	}
	if err := putTransitionStatus(cb, false); err != nil {
		return err
	}
	log.Warnf("Chain %v custody transition force closed", chain)
	m.cfg.Events.Record(TransitionStatusEvent{Chain: chain})
	return nil
}

// TransitionInProgress reports whether a custody transition is open for
// the chain.
func (m *SessionManager) TransitionInProgress(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) bool {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return false
	}
	return fetchTransitionStatus(cb)
}

// SessionCount returns the number of sessions created for the chain.
func (m *SessionManager) SessionCount(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (uint32, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return 0, err
	}
	return fetchSessionCount(cb), nil
}

// CurrentSession returns the live session of the chain.
func (m *SessionManager) CurrentSession(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (*SessionInfo, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	count := fetchSessionCount(cb)
	if count == 0 {
		return nil, newError(ErrSessionNotExists,
			"no trustee session has been created", nil)
	}
	return fetchSessionInfo(cb, count-1)
}

// LastSession returns the most recently ended session of the chain.
func (m *SessionManager) LastSession(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (*SessionInfo, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	count := fetchSessionCount(cb)
	if count < 2 {
		return nil, newError(ErrSessionNotExists,
			"no previous trustee session exists", nil)
	}
	return fetchSessionInfo(cb, count-2)
}

// SessionAt returns the session with the given number.
func (m *SessionManager) SessionAt(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, number uint32) (*SessionInfo, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	return fetchSessionInfo(cb, number)
}

// PreTotalSupply returns the pegged asset supply snapshotted at the
// start of the open transition.
func (m *SessionManager) PreTotalSupply(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) (uint64, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return 0, err
	}
	return fetchPreTotalSupply(cb), nil
}

// MoveToBlacklist adds misbehaving accounts to the chain's blacklist.
// Blacklisted accounts are skipped by elections until removed.
func (m *SessionManager) MoveToBlacklist(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, accounts ...gateway.AccountID) error {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := putBlacklisted(cb, account); err != nil {
			return err
		}
	}
	log.Infof("Chain %v blacklisted %d trustee accounts", chain,
		len(accounts))
	m.cfg.Events.Record(BlacklistEvent{
		Chain: chain, Accounts: accounts, Added: true,
	})
	return nil
}

// RemoveFromBlacklist releases accounts from the chain's blacklist.
func (m *SessionManager) RemoveFromBlacklist(ns walletdb.ReadWriteBucket,
	chain gateway.Chain, accounts ...gateway.AccountID) error {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := deleteBlacklisted(cb, account); err != nil {
			return err
		}
	}
	m.cfg.Events.Record(BlacklistEvent{Chain: chain, Accounts: accounts})
	return nil
}

// Blacklist returns the chain's blacklisted accounts.
func (m *SessionManager) Blacklist(ns walletdb.ReadWriteBucket,
	chain gateway.Chain) ([]gateway.AccountID, error) {

	cb, err := chainBucket(ns, chain)
	if err != nil {
		return nil, err
	}
	var accounts []gateway.AccountID
	err = forEachBlacklisted(cb, func(account gateway.AccountID) error {
		accounts = append(accounts, account)
		return nil
	})
	if err != nil {
		return nil, newError(ErrDatabase, "failed to list blacklist", err)
	}
	return accounts, nil
}

// SetAdmin installs the trustee admin account shared by all chains.
func (m *SessionManager) SetAdmin(ns walletdb.ReadWriteBucket,
	admin gateway.AccountID) error {

	if err := putAdmin(ns, admin); err != nil {
		return err
	}
	m.cfg.Events.Record(AdminChangedEvent{Admin: &admin})
	return nil
}

// RemoveAdmin clears the trustee admin.
func (m *SessionManager) RemoveAdmin(ns walletdb.ReadWriteBucket) error {
	if err := deleteAdmin(ns); err != nil {
		return err
	}
	m.cfg.Events.Record(AdminChangedEvent{})
	return nil
}

// Admin returns the trustee admin account, if one is set.
func (m *SessionManager) Admin(ns walletdb.ReadWriteBucket) (gateway.AccountID,
	bool) {

	return fetchAdmin(ns)
}

// SetAdminMultiplier sets the admin reward multiplier in tenths.  A
// multiplier of 11 grants the admin 1.1x the proportional share.
func (m *SessionManager) SetAdminMultiplier(ns walletdb.ReadWriteBucket,
	multiplier uint64) error {

	if multiplier < 10 {
		return newError(ErrInvalidMultiAccount,
			"admin multiplier must be at least 10 tenths", nil)
	}
	return putAdminMultiplier(ns, multiplier)
}

// AdminMultiplier returns the admin reward multiplier in tenths.
func (m *SessionManager) AdminMultiplier(
	ns walletdb.ReadWriteBucket) uint64 {

	return fetchAdminMultiplier(ns)
}

// memberDiff returns the symmetric difference between the old and new
// member sets.
func memberDiff(prev, next []gateway.AccountID) (incoming,
	outgoing []gateway.AccountID) {

	prevSet := make(map[gateway.AccountID]struct{}, len(prev))
	for _, a := range prev {
		prevSet[a] = struct{}{}
	}
	nextSet := make(map[gateway.AccountID]struct{}, len(next))
	for _, a := range next {
		nextSet[a] = struct{}{}
	}
	for _, a := range next {
		if _, ok := prevSet[a]; !ok {
			incoming = append(incoming, a)
		}
	}
	for _, a := range prev {
		if _, ok := nextSet[a]; !ok {
			outgoing = append(outgoing, a)
		}
	}
	return incoming, outgoing
}
