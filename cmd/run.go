// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrail/signalbox/pkg/pipeline"
	"github.com/openrail/signalbox/pkg/power"
	"github.com/openrail/signalbox/pkg/signal"
	"github.com/openrail/signalbox/pkg/station"
	"github.com/openrail/signalbox/pkg/tunables"
)

var (
	runDistricts    int
	runProgDistrict int
	runListen       string
	runTunablesPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the station against simulated districts",
	Long: `Run the command station core with a simulated layout.

Districts are modelled electrically: the waveform is generated for real
and per-district current readings are synthesized, so the whole pipeline
(slots, manager, generator, power monitor) runs as it would on hardware.

A text console on stdin (and on --port, when given) accepts the station
command grammar; type "help" for a summary. With --listen, the station
also serves its event stream and the same command grammar over WebSocket
for the panel and monitor commands.

Simulation controls:
  sim short <district> <ms>   inject a dead short
  sim ack <district> <ms>     inject a decoder acknowledgment pulse`,
}

func init() {
	runCmd.RunE = runStation
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runDistricts, "districts", 3, "Number of districts (including the programming track)")
	runCmd.Flags().IntVar(&runProgDistrict, "prog-district", -2, "Programming track district index (-1 for none, default last)")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Serve events and commands on this address (e.g. :8472)")
	runCmd.Flags().StringVar(&runTunablesPath, "tunables", "", "Tunable constants blob path")
}

func runStation(cmd *cobra.Command, args []string) error {
	if runDistricts < 1 {
		return fmt.Errorf("need at least one district")
	}
	prog := runProgDistrict
	if prog == -2 {
		prog = runDistricts - 1
	}
	if prog >= runDistricts {
		return fmt.Errorf("programming district %d out of range", prog)
	}

	// Tunables come from the blob when a path is given, with a
	// checksum failure silently resetting to defaults.
	tun := tunables.Defaults()
	if runTunablesPath != "" {
		var err error
		tun, err = tunables.Load(tunables.FileStore{Path: runTunablesPath})
		if err != nil {
			return fmt.Errorf("failed to load tunables: %w", err)
		}
	}

	sim := newSimRailway(runDistricts)
	line := signal.NewPinLine(sim, runDistricts)
	drivers := make([]power.Driver, runDistricts)
	for i := range drivers {
		drivers[i] = &simDriver{sim: sim, pin: line.Driver(i), i: i}
	}

	cfg := station.DefaultConfig()
	cfg.Tunables = tun
	cfg.Line = line
	cfg.Drivers = drivers
	cfg.Reader = sim
	cfg.ProgrammingDistrict = prog
	st := station.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.Run(ctx)

	var bc *broadcaster
	if runListen != "" {
		server, b := startEventServer(runListen, st)
		bc = b
		defer server.Close()
	}

	// One pump prints notifications to the console and forwards them
	// to the WebSocket clients.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-st.Events():
				fmt.Println(formatEvent(e))
				if bc != nil {
					bc.sendFrame(wireFrame{Kind: "event", Event: &e})
				}
			case reply := <-st.Replies():
				fmt.Printf("< %s\n", reply)
				if bc != nil {
					bc.sendFrame(wireFrame{Kind: "reply", Reply: reply})
				}
			}
		}
	}()

	fmt.Printf("Signalbox - %d districts (programming track: %s)\n",
		runDistricts, progName(prog))
	fmt.Println("Type commands, \"help\" for the grammar, ctrl-D to exit")

	consoles := []io.Reader{os.Stdin}
	if portName != "" {
		serialConsole, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return err
		}
		defer serialConsole.Close()
		consoles = append(consoles, serialConsole)
	}
	lines := make(chan string, 8)
	for _, console := range consoles {
		go func(r io.Reader) {
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			lines <- "quit"
		}(console)
	}

	for line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case line == "quit" || line == "exit":
			st.SetPower(pipeline.ModeOff)
			return nil
		case line == "help":
			fmt.Println(runCmd.Long)
			continue
		case strings.HasPrefix(line, "sim "):
			if err := simCommand(sim, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
			continue
		case line == "edges":
			fmt.Printf("< %d waveform edges\n", sim.Edges())
			continue
		}
		response, err := dispatch(st, line)
		if err != nil {
			fmt.Printf("! %v\n", err)
			continue
		}
		if response != "" {
			fmt.Printf("< %s\n", response)
		}
	}
	return nil
}

func progName(prog int) string {
	if prog < 0 {
		return "none"
	}
	return fmt.Sprintf("district %d", prog)
}

// simCommand handles the simulation injections.
func simCommand(sim *simRailway, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return fmt.Errorf("usage: sim short|ack <district> <ms>")
	}
	args, err := intArgs(fields[2:], 2)
	if err != nil {
		return err
	}
	if args[0] < 0 || args[0] >= len(sim.districts) {
		return fmt.Errorf("district %d out of range", args[0])
	}
	period := time.Duration(args[1]) * time.Millisecond
	switch fields[1] {
	case "short":
		sim.InjectShort(args[0], period)
	case "ack":
		sim.InjectAck(args[0], period)
	default:
		return fmt.Errorf("unknown sim action: %s", fields[1])
	}
	return nil
}

// formatEvent renders one station event for the console.
func formatEvent(e station.Event) string {
	switch e.Kind {
	case station.EventPower:
		return fmt.Sprintf("* power %s", e.Mode)
	case station.EventLoadReport:
		return fmt.Sprintf("* load district=%d value=%d", e.District, e.Load)
	case station.EventDistricts:
		parts := make([]string, len(e.Districts))
		for i, v := range e.Districts {
			parts[i] = fmt.Sprintf("%d", v)
		}
		return fmt.Sprintf("* districts %s", strings.Join(parts, " "))
	case station.EventError:
		return fmt.Sprintf("* error %s arg=%d repeats=%d", e.Error.Code, e.Error.Arg, e.Error.Repeats)
	}
	return fmt.Sprintf("* unknown event %d", e.Kind)
}
