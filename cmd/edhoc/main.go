// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

// edhoc runs EDHOC handshakes from the command line: key and credential
// generation, a UDP responder, and a matching initiator.
package main

import (
	"os"

	"github.com/lake-edhoc/go-edhoc/cmd/edhoc/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
