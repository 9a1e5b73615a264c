// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors
//
// Signalbox - DCC command station
//
// Generates the NMRA S-9.2 track signal, monitors district power and
// exposes the station to host tooling.

package main

import (
	"os"

	"github.com/openrail/signalbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
