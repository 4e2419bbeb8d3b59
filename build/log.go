// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package build holds build-time switches shared by btcledger packages.
package build

import (
	"os"

	"github.com/btcsuite/btclog"
)

// DeploymentType is the type of build the binary was compiled as.
type DeploymentType byte

const (
	// Development is a build used for tests and local debugging.
	Development DeploymentType = iota

	// Production is a build used for running btcledgerd.
	Production
)

// String returns a human readable name for the deployment type.
func (d DeploymentType) String() string {
	switch d {
	case Development:
		return "development"
	case Production:
		return "production"
	default:
		return "unknown"
	}
}

// LogType indicates the type of logging specified by the build flag.
type LogType byte

const (
	// LogTypeNone indicates no logging.
	LogTypeNone LogType = iota

	// LogTypeStdOut all logging is written directly to stdout.
	LogTypeStdOut

	// LogTypeDefault logs through the backend installed by the daemon.
	LogTypeDefault
)

// String returns a human readable identifier for the logging type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// NewSubLogger constructs a new subsystem logger. Production builds use
// genSubLogger, which is normally backed by the daemon's rotating log
// backend; a nil genSubLogger disables the subsystem until the daemon calls
// the package's UseLogger.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	switch LoggingType {
	case LogTypeDefault:
		if genSubLogger != nil {
			return genSubLogger(subsystem)
		}

	case LogTypeStdOut:
		backend := btclog.NewBackend(os.Stdout)
		logger := backend.Logger(subsystem)

		level, _ := btclog.LevelFromString(LogLevel)
		logger.SetLevel(level)

		return logger
	}

	return btclog.Disabled
}
