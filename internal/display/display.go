// Package display provides terminal formatting for mt output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/mailtriage/internal/types"
)

var (
	// Styles
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
)

var importanceStyles = map[types.Importance]lipgloss.Style{
	types.ImportanceStar:    ErrStyle,
	types.ImportanceUnsure:  Warn,
	types.ImportanceNeither: Muted,
	types.ImportanceArchive: Dim,
	types.ImportanceBlock:   Dim,
}

// ImportanceDot returns a colored dot for an importance value.
func ImportanceDot(imp types.Importance) string {
	switch imp {
	case types.ImportanceStar:
		return ErrStyle.Render("●")
	case types.ImportanceUnsure:
		return Warn.Render("○")
	case types.ImportanceNeither:
		return Muted.Render("○")
	case types.ImportanceArchive, types.ImportanceBlock:
		return Dim.Render("◌")
	default:
		return Dim.Render("·")
	}
}

// ImportanceLabel returns a fixed-width styled importance label.
func ImportanceLabel(imp types.Importance) string {
	label := fmt.Sprintf("%-7s", string(imp))
	if st, ok := importanceStyles[imp]; ok {
		return st.Render(label)
	}
	return label
}

// OutcomeBadge styles a run outcome.
func OutcomeBadge(o types.RunOutcome) string {
	switch o {
	case types.OutcomeCommitted:
		return Success.Render(string(o))
	case types.OutcomeDeferred, types.OutcomeEmpty:
		return Muted.Render(string(o))
	case types.OutcomeAborted:
		return ErrStyle.Render(string(o))
	default:
		return string(o)
	}
}

// TimeAgo formats t relative to now.
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < 0:
		return "in " + (-d).Round(time.Minute).String()
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// Truncate shortens a string to maxLen runes, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(Success.Render("✓") + " " + msg)
}

// WarnMsg prints an amber marker + message.
func WarnMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(Warn.Render("!") + " " + msg)
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+msg)
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}

// Field prints an aligned "label  value" line.
func Field(label string, value any) {
	fmt.Printf("  %s %v\n", Muted.Render(fmt.Sprintf("%-18s", label)), value)
}

// ItemLine formats one triaged thread as a single status line.
func ItemLine(o types.ItemOutcome) string {
	var flags []string
	if o.Notified {
		flags = append(flags, "notified")
	}
	if o.Draft {
		flags = append(flags, "draft")
	}
	if o.Failed {
		flags = append(flags, ErrStyle.Render("failed"))
	}
	line := fmt.Sprintf("%s %s %s  %s", ImportanceDot(o.Importance), ImportanceLabel(o.Importance),
		Truncate(o.Subject, 60), Dim.Render(Truncate(o.From, 40)))
	if len(flags) > 0 {
		line += "  " + Muted.Render("["+strings.Join(flags, ", ")+"]")
	}
	return line
}

// Items prints one ItemLine per outcome.
func Items(items []types.ItemOutcome) {
	for _, o := range items {
		fmt.Println("  " + ItemLine(o))
	}
}

// Block prints a multi-line block, indenting every line. An empty title
// prints no subheader.
func Block(title, body string) {
	if title != "" {
		SubHeader(title)
	}
	if strings.TrimSpace(body) == "" {
		fmt.Println("  " + Dim.Render("(empty)"))
		return
	}
	for _, line := range strings.Split(body, "\n") {
		fmt.Println("  " + line)
	}
}
