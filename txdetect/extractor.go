// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdetect

import (
	"bytes"

	"github.com/pegbridge/pegbridge/gateway"
)

// referralSeparator splits the depositor account from the optional
// referral account in an OP_RETURN payload.
const referralSeparator = '@'

// OpReturnExtractor decodes deposit OP_RETURN payloads of the form
//
//	<account>[@<referral>]
//
// where each part is either a hex encoded or a raw 32 byte host
// account.  A malformed referral is dropped rather than failing the
// whole payload; a malformed account fails extraction.
type OpReturnExtractor struct{}

// decodePart decodes one payload part as a host account.
func decodePart(part []byte) (gateway.AccountID, bool) {
	if len(part) == gateway.AccountIDSize {
		var id gateway.AccountID
		copy(id[:], part)
		return id, true
	}
	id, err := gateway.ParseAccountID(string(part))
	if err != nil {
		return gateway.AccountID{}, false
	}
	return id, true
}

// Extract implements the gateway.AccountExtractor interface.
func (OpReturnExtractor) Extract(payload []byte) (gateway.AccountID,
	*gateway.AccountID, bool) {

	payload = bytes.TrimSpace(payload)

	// A payload of exactly the account size is a raw account; it may
	// legitimately contain the separator byte.
	if len(payload) == gateway.AccountIDSize {
		var id gateway.AccountID
		copy(id[:], payload)
		return id, nil, true
	}

	accountPart := payload
	var referralPart []byte
	if idx := bytes.IndexByte(payload, referralSeparator); idx >= 0 {
		accountPart = payload[:idx]
		referralPart = payload[idx+1:]
	}

	account, ok := decodePart(accountPart)
	if !ok {
		return gateway.AccountID{}, nil, false
	}
	var referral *gateway.AccountID
	if len(referralPart) > 0 {
		if r, ok := decodePart(referralPart); ok {
			referral = &r
		}
	}
	return account, referral, true
}
