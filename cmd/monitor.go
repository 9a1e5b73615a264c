// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/openrail/signalbox/pkg/station"
)

var (
	monitorErrorsOnly bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream a running station's events to the terminal",
	Long: `Log the event stream of a running station (signalbox run --listen).

Each event is printed with a timestamp: power changes, district status
reports, periodic load reports, drained error records and command
replies. With --errors-only, routine reports are suppressed so faults
stand out in long captures.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorErrorsOnly, "errors-only", false, "Only print errors and faults")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenEventConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Signalbox monitor - %s\n", connInfo)

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return fmt.Errorf("event stream ended: %w", err)
		}
		var f wireFrame
		if err := cbor.Unmarshal(data, &f); err != nil {
			fmt.Printf("[%s] undecodable frame (%d bytes): %v\n",
				time.Now().Format("15:04:05.000"), len(data), err)
			continue
		}

		line, isError := describeFrame(f)
		if line == "" {
			continue
		}
		if monitorErrorsOnly && !isError {
			continue
		}
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
	}
}

// describeFrame renders a frame for the log and classifies it.
func describeFrame(f wireFrame) (string, bool) {
	switch f.Kind {
	case "reply":
		return "reply: " + f.Reply, strings.HasPrefix(f.Reply, "error:")
	case "event":
		if f.Event == nil {
			return "", false
		}
		e := *f.Event
		switch e.Kind {
		case station.EventPower:
			return "power " + e.Mode.String(), false
		case station.EventLoadReport:
			return fmt.Sprintf("load district=%d value=%d", e.District, e.Load), false
		case station.EventDistricts:
			parts := make([]string, len(e.Districts))
			faulted := false
			for i, v := range e.Districts {
				name, ok := districtNames[v]
				if !ok {
					name = "?"
				}
				parts[i] = fmt.Sprintf("%d:%s", i, name)
				if v >= 2 {
					faulted = true
				}
			}
			return "districts " + strings.Join(parts, " "), faulted
		case station.EventError:
			return fmt.Sprintf("error %s arg=%d repeats=%d",
				e.Error.Code, e.Error.Arg, e.Error.Repeats), true
		}
	}
	return "", false
}
