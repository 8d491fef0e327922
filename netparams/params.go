// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/pegbridge/pegbridge/gateway"
)

// Params groups the external chain parameters the gateway needs for one
// bridged network: the chain identity plus the address encoding and
// script rules of the underlying UTXO network.
type Params struct {
	*chaincfg.Params
	Chain gateway.Chain
}

// BTCMainNetParams contains parameters for custody on the Bitcoin main
// network.
var BTCMainNetParams = Params{
	Params: &chaincfg.MainNetParams,
	Chain:  gateway.Bitcoin,
}

// BTCTestNet3Params contains parameters for custody on the Bitcoin test
// network (version 3).
var BTCTestNet3Params = Params{
	Params: &chaincfg.TestNet3Params,
	Chain:  gateway.Bitcoin,
}

// dogeMainNetParams describes the Dogecoin main network.  Dogecoin's
// address and HD derivation magics differ from every Bitcoin network,
// so the parameters are declared here in full rather than derived from
// any chaincfg preset.
var dogeMainNetParams = chaincfg.Params{
	Name:             "doge-mainnet",
	Net:              wire.BitcoinNet(0xc0c0c0c0),
	DefaultPort:      "22556",
	PubKeyHashAddrID: 0x1e,
	ScriptHashAddrID: 0x16,
	PrivateKeyID:     0x9e,
	HDPrivateKeyID:   [4]byte{0x02, 0xfa, 0xc3, 0x98},
	HDPublicKeyID:    [4]byte{0x02, 0xfa, 0xca, 0xfd},
	HDCoinType:       3,
}

// dogeTestNetParams describes the Dogecoin test network.
var dogeTestNetParams = chaincfg.Params{
	Name:             "doge-testnet",
	Net:              wire.BitcoinNet(0xfcc1b7dc),
	DefaultPort:      "44556",
	PubKeyHashAddrID: 0x71,
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xf1,
	HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94},
	HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf},
	HDCoinType:       1,
}

// DogeMainNetParams contains parameters for custody on the Dogecoin
// main network.
var DogeMainNetParams = Params{
	Params: &dogeMainNetParams,
	Chain:  gateway.Dogecoin,
}

// DogeTestNetParams contains parameters for custody on the Dogecoin
// test network.
var DogeTestNetParams = Params{
	Params: &dogeTestNetParams,
	Chain:  gateway.Dogecoin,
}

// MainNetForChain returns the main network parameters of the given
// chain, or nil when the chain is not supported.
func MainNetForChain(chain gateway.Chain) *Params {
	switch chain {
	case gateway.Bitcoin:
		return &BTCMainNetParams
	case gateway.Dogecoin:
		return &DogeMainNetParams
	default:
		return nil
	}
}

// TestNetForChain returns the test network parameters of the given
// chain, or nil when the chain is not supported.
func TestNetForChain(chain gateway.Chain) *Params {
	switch chain {
	case gateway.Bitcoin:
		return &BTCTestNet3Params
	case gateway.Dogecoin:
		return &DogeTestNetParams
	default:
		return nil
	}
}
