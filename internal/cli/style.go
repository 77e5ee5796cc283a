package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	highlight  = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special    = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning    = lipgloss.AdaptiveColor{Light: "#F29F05", Dark: "#F29F05"}
	errorColor = lipgloss.AdaptiveColor{Light: "#E05252", Dark: "#E05252"}

	titleStyle = lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	okDot   = lipgloss.NewStyle().Foreground(special).SetString("●")
	warnDot = lipgloss.NewStyle().Foreground(warning).SetString("●")
	errDot  = lipgloss.NewStyle().Foreground(errorColor).SetString("●")

	addedStyle   = lipgloss.NewStyle().Foreground(special)
	updatedStyle = lipgloss.NewStyle().Foreground(warning)
	removedStyle = lipgloss.NewStyle().Foreground(errorColor)
)

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", okDot.String(), msg)
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", warnDot.String(), msg)
}

// PrintError prints msg behind a red status dot.
func PrintError(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", errDot.String(), msg)
}

// renderTable prints rows under bold headers with padded columns.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprint(w, headerStyle.Width(widths[i]+2).Render(h))
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprint(w, lipgloss.NewStyle().Width(widths[i]+2).Render(cell))
			}
		}
		fmt.Fprintln(w)
	}
}
