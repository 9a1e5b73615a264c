// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/openrail/signalbox/pkg/station"
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Interactive panel for a running station",
	Long: `Control and monitor a running station via an interactive terminal UI.

Connects to the station's WebSocket event stream (signalbox run --listen)
and shows power mode, per-district status, the periodic load report and
the event log, with a command line that accepts the full station grammar.

Keys:
  enter   send the typed command
  pgup/pgdn  scroll the event log
  ctrl+c  quit`,
	RunE: runPanel,
}

func init() {
	rootCmd.AddCommand(panelCmd)
}

// Panel log entry
type panelLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Panel state fed by the event stream
type panelModel struct {
	connInfo string
	conn     *WebSocketConnection

	mode      string
	districts []int
	loadDist  int
	loadValue uint16

	log        []panelLogEntry
	maxEntries int

	input    textinput.Model
	events   viewport.Model
	width    int
	height   int
	ready    bool
	quitting bool
}

// Messages
type frameMsg wireFrame
type linkClosedMsg struct{ err error }

var (
	panelTitleStyle = lipgloss.NewStyle().Bold(true)
	panelDimStyle   = lipgloss.NewStyle().Faint(true)
	panelErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	districtStyles = map[int]lipgloss.Style{
		0: lipgloss.NewStyle().Faint(true),                                // disabled
		1: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),           // enabled
		2: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),           // flipped
		3: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),          // blocked
		4: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true), // off
	}
	districtNames = map[int]string{
		0: "DISABLED", 1: "ON", 2: "FLIPPED", 3: "BLOCKED", 4: "OFF",
	}
)

func runPanel(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenEventConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	input := textinput.New()
	input.Placeholder = "power main | mobile 3 64 1 | cv write 1 42 | ..."
	input.Focus()

	m := &panelModel{
		connInfo:   connInfo,
		conn:       conn,
		mode:       "?",
		maxEntries: 200,
		input:      input,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	go readFrames(conn, p)
	_, err = p.Run()
	return err
}

// readFrames pumps decoded frames into the program.
func readFrames(conn *WebSocketConnection, p *tea.Program) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			p.Send(linkClosedMsg{err: err})
			return
		}
		var f wireFrame
		if err := cbor.Unmarshal(data, &f); err != nil {
			continue
		}
		p.Send(frameMsg(f))
	}
}

func (m *panelModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		logHeight := m.height - 8
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.ready {
			m.events = viewport.New(m.width, logHeight)
			m.ready = true
		} else {
			m.events.Width = m.width
			m.events.Height = logHeight
		}
		m.refreshLog()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.appendLog("> "+line, false)
			if _, err := m.conn.Write([]byte(line)); err != nil {
				m.appendLog(fmt.Sprintf("link write failed: %v", err), true)
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.events, cmd = m.events.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case frameMsg:
		m.applyFrame(wireFrame(msg))
		return m, nil

	case linkClosedMsg:
		m.appendLog(fmt.Sprintf("connection closed: %v", msg.err), true)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *panelModel) applyFrame(f wireFrame) {
	switch f.Kind {
	case "reply":
		isErr := strings.HasPrefix(f.Reply, "error:")
		m.appendLog(f.Reply, isErr)
	case "event":
		if f.Event == nil {
			return
		}
		e := *f.Event
		switch e.Kind {
		case station.EventPower:
			m.mode = e.Mode.String()
			m.appendLog("power "+e.Mode.String(), false)
		case station.EventDistricts:
			m.districts = e.Districts
		case station.EventLoadReport:
			m.loadDist = e.District
			m.loadValue = e.Load
		case station.EventError:
			m.appendLog(fmt.Sprintf("error %s arg=%d repeats=%d",
				e.Error.Code, e.Error.Arg, e.Error.Repeats), true)
		}
	}
}

func (m *panelModel) appendLog(message string, isError bool) {
	m.log = append(m.log, panelLogEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(m.log) > m.maxEntries {
		m.log = m.log[len(m.log)-m.maxEntries:]
	}
	m.refreshLog()
}

func (m *panelModel) refreshLog() {
	if !m.ready {
		return
	}
	var sb strings.Builder
	for _, entry := range m.log {
		line := entry.timestamp.Format("15:04:05.000") + " " + entry.message
		if entry.isError {
			line = panelErrStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	m.events.SetContent(sb.String())
	m.events.GotoBottom()
}

func (m *panelModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(panelTitleStyle.Render("Signalbox Panel"))
	sb.WriteString(panelDimStyle.Render("  " + m.connInfo))
	sb.WriteByte('\n')

	fmt.Fprintf(&sb, "Power: %s    Peak load: district %d = %d\n",
		panelTitleStyle.Render(m.mode), m.loadDist, m.loadValue)

	if len(m.districts) == 0 {
		sb.WriteString(panelDimStyle.Render("Districts: (waiting for report)"))
	} else {
		sb.WriteString("Districts:")
		for i, v := range m.districts {
			style, ok := districtStyles[v]
			if !ok {
				style = panelDimStyle
			}
			name, ok := districtNames[v]
			if !ok {
				name = "?"
			}
			fmt.Fprintf(&sb, "  %d:%s", i, style.Render(name))
		}
	}
	sb.WriteByte('\n')
	sb.WriteByte('\n')

	if m.ready {
		sb.WriteString(m.events.View())
		sb.WriteByte('\n')
	}
	sb.WriteString(m.input.View())
	return sb.String()
}
