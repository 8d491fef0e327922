// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pegbridge ties the custody and settlement packages of the
// peg together.  Embedding hosts construct a bridge.Bridge directly;
// this package only carries the shared logging glue.
package pegbridge

import (
	"github.com/btcsuite/btclog"

	"github.com/pegbridge/pegbridge/bridge"
	"github.com/pegbridge/pegbridge/deposit"
	"github.com/pegbridge/pegbridge/trustee"
	"github.com/pegbridge/pegbridge/txdetect"
	"github.com/pegbridge/pegbridge/withdraw"
)

// subsystemLoggers maps each subsystem identifier to the function that
// installs its logger.  When adding new subsystems, add a reference
// here.
var subsystemLoggers = map[string]func(btclog.Logger){
	"BRDG": bridge.UseLogger,
	"TRST": trustee.UseLogger,
	"DPST": deposit.UseLogger,
	"WDRW": withdraw.UseLogger,
	"TXDT": txdetect.UseLogger,
}

// SetupLoggers creates a subsystem logger for every package against the
// given backend at the given level.  An invalid level name falls back
// to info.
func SetupLoggers(backend *btclog.Backend, logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		level = btclog.LevelInfo
	}
	for subsystemID, useLogger := range subsystemLoggers {
		logger := backend.Logger(subsystemID)
		logger.SetLevel(level)
		useLogger(logger)
	}
}

// DisableLogs silences every subsystem logger.
func DisableLogs() {
	for _, useLogger := range subsystemLoggers {
		useLogger(btclog.Disabled)
	}
}
