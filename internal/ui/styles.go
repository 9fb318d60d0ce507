// Package ui styles the terminal output of the nora CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// Palette.
var (
	ColorSuccess = lipgloss.Color("#8BC34A")
	ColorError   = lipgloss.Color("#E53935")
	ColorWarning = lipgloss.Color("#FFC107")
	ColorInfo    = lipgloss.Color("#2196F3")
	ColorMuted   = lipgloss.Color("#7A8599")
	ColorAccent  = lipgloss.Color("#B388FF")
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorInfo)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	TitleStyle   = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	PromptStyle  = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	BoxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)
)

// Icons used in status lines.
const (
	IconOK   = "✓"
	IconFail = "✗"
	IconInfo = "•"
)

// Success renders a green status line.
func Success(format string, args ...any) string {
	return SuccessStyle.Render(IconOK + " " + fmt.Sprintf(format, args...))
}

// Error renders a red status line.
func Error(format string, args ...any) string {
	return ErrorStyle.Render(IconFail + " " + fmt.Sprintf(format, args...))
}

// Warning renders a yellow status line.
func Warning(format string, args ...any) string {
	return WarningStyle.Render("! " + fmt.Sprintf(format, args...))
}

// Info renders a blue status line.
func Info(format string, args ...any) string {
	return InfoStyle.Render(IconInfo + " " + fmt.Sprintf(format, args...))
}

// Muted renders de-emphasized text.
func Muted(s string) string { return MutedStyle.Render(s) }

// Title renders a heading.
func Title(s string) string { return TitleStyle.Render(s) }

// Prompt renders the REPL prompt for model.
func Prompt(model string) string {
	return PromptStyle.Render("you") + MutedStyle.Render(" ("+model+")") + PromptStyle.Render(" > ")
}

// Banner renders the chat welcome box.
func Banner(model, server string) string {
	body := Title("nora") + "\n" +
		Muted("model:  ") + model + "\n" +
		Muted("server: ") + server + "\n" +
		Muted("Type /help for commands, /exit to quit.")
	return BoxStyle.Render(body)
}

// Table renders rows as aligned columns with a bold header.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			if w := lipgloss.Width(r[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}
	cell := func(s string, i int) string {
		return lipgloss.NewStyle().Width(widths[i] + 2).Render(s)
	}

	var b strings.Builder
	for i, h := range header {
		b.WriteString(cell(TitleStyle.Render(h), i))
	}
	b.WriteString("\n")
	for _, r := range rows {
		for i := 0; i < len(r) && i < len(widths); i++ {
			b.WriteString(cell(r[i], i))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RunReport renders a team run as one status line per task.
func RunReport(report *orchestrator.RunReport) string {
	var b strings.Builder
	b.WriteString(Title(fmt.Sprintf("Team %s", report.Team)))
	b.WriteString(Muted(fmt.Sprintf("  (%s, run %s, %s)", report.Mode, report.ID, report.Duration.Round(time.Millisecond))))
	b.WriteString("\n")
	for _, t := range report.Tasks {
		out, ok := report.Results[t.Name]
		switch {
		case !ok:
			b.WriteString(Muted("  - "+t.Name+": not run") + "\n")
		case out.Success:
			line := t.Name
			if out.Output != nil {
				line += ": " + truncate(fmt.Sprint(out.Output), 100)
			}
			b.WriteString("  " + Success("%s", line) + "\n")
		default:
			b.WriteString("  " + Error("%s: %s", t.Name, out.Error) + "\n")
		}
	}
	if report.Deadlock != "" {
		b.WriteString(Error("%s", report.Deadlock) + "\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Fprintln writes a styled line to w, defaulting to stdout.
func Fprintln(w io.Writer, s string) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w, s)
}
