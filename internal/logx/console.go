package logx

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Console prints the user-facing progress of a run. Lines are styled
// according to their meaning; styling degrades to plain text when w is not
// a color-capable terminal.
type Console struct {
	w  io.Writer
	mu sync.Mutex

	neutral lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	heading lipgloss.Style
}

// NewConsole returns a console writing to stdout.
func NewConsole() *Console {
	return NewConsoleTo(os.Stdout)
}

// NewConsoleTo returns a console writing to w.
func NewConsoleTo(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:       w,
		neutral: r.NewStyle(),
		success: r.NewStyle().Foreground(lipgloss.Color("10")),
		failure: r.NewStyle().Foreground(lipgloss.Color("9")),
		heading: r.NewStyle().Bold(true),
	}
}

func (c *Console) println(style lipgloss.Style, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, style.Render(fmt.Sprintf(format, args...)))
}

// Heading prints an unstyled-but-bold line, e.g. "Processing MR #3 (...)".
func (c *Console) Heading(format string, args ...any) {
	c.println(c.heading, format, args...)
}

// Neutral prints an informational line.
func (c *Console) Neutral(format string, args ...any) {
	c.println(c.neutral, format, args...)
}

// Success prints a line in green.
func (c *Console) Success(format string, args ...any) {
	c.println(c.success, format, args...)
}

// Failure prints a line in red.
func (c *Console) Failure(format string, args ...any) {
	c.println(c.failure, format, args...)
}
