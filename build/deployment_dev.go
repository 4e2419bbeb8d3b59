// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build dev

package build

// Deployment specifies a development build.
const Deployment = Development

// LoggingType writes every sub-logger straight to stdout so package tests
// can be run with -tags=dev to see log output.
const LoggingType = LogTypeStdOut
