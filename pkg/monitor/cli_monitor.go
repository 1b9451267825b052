package monitor

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based visualization of messages flowing through all channels.
// Assistant answers are markdown (reports, tables, source footers), so
// they are rendered through glamour instead of printed raw.
type CLIMonitor struct {
	writer   io.Writer // The output destination, typically os.Stdout.
	renderer *glamour.TermRenderer
	profile  termenv.Profile
}

// NewCLIMonitor creates a new CLI monitor.
func NewCLIMonitor() *CLIMonitor {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		renderer = nil
	}
	return &CLIMonitor{
		writer:   os.Stdout,
		renderer: renderer,
		profile:  termenv.ColorProfile(),
	}
}

// Start starts the CLI monitor.
func (m *CLIMonitor) Start() error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - All channel messages will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor.
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage receives and displays a monitoring message.
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	timestamp := termenv.String("[" + msg.Timestamp.Format("2006-01-02 15:04:05") + "]").
		Foreground(m.profile.Color("#6b7280"))

	if msg.MessageType == "ASSISTANT" {
		fmt.Fprintf(m.writer, "%s [AI]\n%s\n", timestamp, m.renderMarkdown(msg.Content))
		return
	}
	fmt.Fprintf(m.writer, "%s [%s/%s] %s\n", timestamp, msg.ChannelID, msg.Username, msg.Content)
}

func (m *CLIMonitor) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
