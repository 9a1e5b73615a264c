// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial console flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "signalbox",
	Short: "DCC command station core",
	Long: `Signalbox - an NMRA S-9.2 DCC command station.

Generates the DCC track waveform for mobile, accessory and service-mode
commands, monitors per-district current for shorts, overloads and decoder
acknowledgments, and exposes the station to host tooling over a text
console and a WebSocket event stream.

Connection modes:
  Serial console: --port /dev/ttyUSB0 [--baud 115200]
  WebSocket:      --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the SIGNALBOX_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: "1.3.0",
}

func init() {
	// Serial console flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial console device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
