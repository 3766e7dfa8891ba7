package output

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// ServerStatus contains data for one configured upstream in the status table.
type ServerStatus struct {
	Name      string
	Transport string // http, sse, stdio
	State     string // connected, failed
	ToolCount int
}

// Summary prints the upstream server status table with amber styling.
func (p *Printer) Summary(servers []ServerStatus) {
	if len(servers) == 0 {
		return
	}

	p.Println()

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())
	if maxWidth := nameColumnWidth(); maxWidth > 0 {
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, WidthMax: maxWidth}})
	}

	t.AppendHeader(table.Row{"Name", "Transport", "State", "Tools"})

	for _, s := range servers {
		state := s.State
		if p.isTTY {
			state = colorState(s.State)
		}
		t.AppendRow(table.Row{s.Name, s.Transport, state, s.ToolCount})
	}

	t.Render()
	p.Println()
}

// colorState applies color to state based on status.
func colorState(state string) string {
	var style lipgloss.Style
	switch state {
	case "running", "ready":
		style = lipgloss.NewStyle().Foreground(ColorGreen)
	case "failed", "error", "exited":
		style = lipgloss.NewStyle().Foreground(ColorRed)
	case "pending", "creating":
		style = lipgloss.NewStyle().Foreground(ColorAmber)
	case "stopped":
		style = lipgloss.NewStyle().Foreground(ColorMuted)
	default:
		style = lipgloss.NewStyle().Foreground(ColorGray)
	}
	return style.Render(state)
}

// nameColumnWidth caps the server-name column so the table stays readable
// in a narrow terminal, leaving room for the transport/state/tools columns
// and their borders. Returns 0 (no cap) when stdout isn't a terminal or its
// width can't be determined.
func nameColumnWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	const reservedForOtherColumns = 40
	if width <= reservedForOtherColumns {
		return 0
	}
	return width - reservedForOtherColumns
}

// tableStyle returns the standard amber-themed table style.
func (p *Printer) tableStyle() table.Style {
	style := table.StyleRounded
	if p.isTTY {
		style.Color.Header = text.Colors{text.FgHiYellow, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	if p.isTTY {
		style := lipgloss.NewStyle().Foreground(ColorAmber).Bold(true)
		p.Println(style.Render(title))
	} else {
		p.Println(title)
	}
}
