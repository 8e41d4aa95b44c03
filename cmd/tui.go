// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/vestat/pkg/register"
	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// monitorBackend is the part of the engine the monitor drives.
type monitorBackend interface {
	Get(nameOrAddress string, priority bool) error
	Set(nameOrAddress, valueHex string, priority bool) error
	Ping() error
	Stats() vedirect.Statistics
}

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	backend     monitorBackend
	registers   func() []register.Info
	operational func() bool
	connInfo    string

	stats     vedirect.Statistics
	table     table.Model
	input     textinput.Model
	editing   string // register being written, empty when not editing
	errorLog  []errorLogEntry
	maxLog    int
	synced    bool
	skipped   int
	connected bool
	width     int
	height    int
	quitting  bool
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	valid  bool
	fields int
	sum    byte
}
type replyMsg struct {
	reply vedirect.Response
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "0 seconds"
	}

	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := total / u.size
		total %= u.size
		if n == 0 {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(backend monitorBackend, registers func() []register.Info, operational func() bool, connInfo string) model {
	columns := []table.Column{
		{Title: "Register", Width: 20},
		{Title: "Address", Width: 8},
		{Title: "Value", Width: 18},
		{Title: "Description", Width: 32},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	ti := textinput.New()
	ti.Placeholder = "0001"
	ti.CharLimit = 16
	ti.Width = 18

	m := model{
		backend:     backend,
		registers:   registers,
		operational: operational,
		connInfo:    connInfo,
		table:       t,
		input:       ti,
		errorLog:    make([]errorLogEntry, 0),
		maxLog:      100,
		width:       80,
		height:      24,
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing != "" {
			return m.updateEditing(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r", "enter":
			m.readSelected()
			return m, nil
		case "w":
			return m.startEditing()
		case "p":
			if err := m.backend.Ping(); err != nil {
				m.addLogEntry(fmt.Sprintf("Ping failed: %v", err), true)
			} else {
				m.addLogEntry("Ping sent", false)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		tableHeight := m.height - 20
		if tableHeight < 5 {
			tableHeight = 5
		}
		m.table.SetHeight(tableHeight)

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case frameMsg:
		if !m.synced {
			if !msg.valid {
				m.skipped++
				return m, nil
			}
			m.synced = true
			if m.skipped > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid frames", m.skipped), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}
		if !msg.valid {
			m.addLogEntry(fmt.Sprintf("CHECKSUM ERROR: frame of %d fields discarded (sum=0x%02X)", msg.fields, msg.sum), true)
		}
		return m, nil

	case replyMsg:
		m.logReply(msg.reply)
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.stopEditing()
		return m, nil
	case "enter":
		value := strings.TrimPrefix(strings.TrimSpace(m.input.Value()), "0x")
		name := m.editing
		m.stopEditing()
		if err := m.backend.Set(name, value, true); err != nil {
			m.addLogEntry(fmt.Sprintf("Write %s failed: %v", name, err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Write %s = 0x%s queued", name, value), false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) selected() (name, address string, ok bool) {
	row := m.table.SelectedRow()
	if len(row) < 2 {
		return "", "", false
	}
	return row[0], row[1], true
}

func (m *model) readSelected() {
	name, address, ok := m.selected()
	if !ok {
		return
	}
	if address == "" {
		m.addLogEntry(fmt.Sprintf("%s is telemetry only", name), true)
		return
	}
	if err := m.backend.Get(name, true); err != nil {
		m.addLogEntry(fmt.Sprintf("Read %s failed: %v", name, err), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Read %s queued", name), false)
}

func (m model) startEditing() (tea.Model, tea.Cmd) {
	name, address, ok := m.selected()
	if !ok {
		return m, nil
	}
	if address == "" {
		m.addLogEntry(fmt.Sprintf("%s is telemetry only", name), true)
		return m, nil
	}
	m.editing = name
	m.input.SetValue("")
	m.table.Blur()
	return m, m.input.Focus()
}

func (m *model) stopEditing() {
	m.editing = ""
	m.input.Blur()
	m.table.Focus()
}

func (m *model) logReply(r vedirect.Response) {
	switch {
	case r.Opcode == vedirect.ReplyUnknown || r.Opcode == vedirect.ReplyError:
		m.addLogEntry("Device rejected command: "+strings.TrimSpace(vedirect.FormatResponse(r)), true)
	case r.HasRegister() && r.Status != vedirect.StatusOK:
		m.addLogEntry(fmt.Sprintf("Register %s: %s", r.Address, vedirect.StatusText(r.Status)), true)
	case r.Opcode == vedirect.ReplyPing:
		m.addLogEntry("Pong, firmware "+formatVersion(r.Payload), false)
	case r.Opcode == vedirect.ReplyAsync:
		// periodic device pushes, too chatty for the log
	default:
		m.addLogEntry(strings.TrimSpace(vedirect.FormatResponse(r)), false)
	}
}

// refresh reloads statistics and register rows.
func (m *model) refresh() {
	m.stats = m.backend.Stats()
	if m.operational != nil {
		m.connected = m.operational()
	}

	var rows []table.Row
	for _, info := range m.registers() {
		if !info.Committed && info.Address == "" {
			continue
		}
		value := "-"
		if info.Committed {
			value = formatValue(info.Value, info.Precision, info.Unit)
		}
		rows = append(rows, table.Row{info.Name, info.Address, value, info.Description})
	}
	m.table.SetRows(rows)
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLog {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLog:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("VESTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Up %s | r: read  w: write  p: ping  q: quit",
		m.connInfo, formatUptime(time.Since(m.stats.StartTime)))))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case !m.connected:
		s.WriteString(warningStyle.Render("⏳ Waiting for device data..."))
	case !m.synced:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid frames)", m.skipped)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	var validPercent float64
	if total := st.TotalFrames(); total > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(total)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames())),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", st.Errors())),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Sent)),
		statsLabelStyle.Render("Acked:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Acknowledged)),
		statsLabelStyle.Render("Timeouts:"), warningStyle.Render(fmt.Sprintf("%d", st.Timeouts)),
		statsLabelStyle.Render("Restarts:"), errorStyle.Render(fmt.Sprintf("%d", st.Restarts)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Registers
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")

	if m.editing != "" {
		s.WriteString(statsLabelStyle.Render(fmt.Sprintf("Write %s (hex, enter to send, esc to cancel): ", m.editing)))
		s.WriteString(m.input.View())
		s.WriteString("\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := 5
	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))

	return s.String()
}
