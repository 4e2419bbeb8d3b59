// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt reads secrets from the operator for the btcledger tools.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrEmpty is returned when the operator entered nothing.
var ErrEmpty = errors.New("no value entered")

// Secret prompts for a secret such as an RPC password or an extended private
// key. The input is not echoed when stdin is a terminal.
func Secret(prefix string) (string, error) {
	return secret(os.Stdin, os.Stdout, prefix)
}

func secret(in *os.File, out io.Writer, prefix string) (string, error) {
	fmt.Fprintf(out, "%s: ", prefix)

	var (
		value string
		err   error
	)
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		var pass []byte
		pass, err = term.ReadPassword(fd)
		fmt.Fprintln(out)
		value = string(pass)
		clear(pass)
	} else {
		// Piped input, one secret per line.
		value, err = bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) && value != "" {
			err = nil
		}
	}
	if err != nil {
		return "", err
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrEmpty
	}

	return value, nil
}
