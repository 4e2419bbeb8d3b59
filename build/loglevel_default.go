// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

// LogLevel specifies the level used by stdout sub-loggers in development
// builds. It may be overridden at link time with
// -ldflags "-X github.com/btcsuite/btcledger/build.LogLevel=debug".
var LogLevel = "info"
