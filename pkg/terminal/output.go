// Package terminal renders benchmark progress for humans: colored verdict
// and warning lines, markdown summaries, and log tails.
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Writer provides styled terminal output.
type Writer struct {
	out      io.Writer
	renderer *glamour.TermRenderer
	mu       sync.Mutex

	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
	infoStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	headerStyle  lipgloss.Style
}

// New creates a Writer on stdout.
func New() *Writer {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a Writer on out. Colors follow the detected
// terminal profile, so redirected output stays plain.
func NewWithOutput(out io.Writer) *Writer {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	r := lipgloss.NewRenderer(out)
	if f, ok := out.(*os.File); ok {
		r.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
	} else {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Writer{
		out:      out,
		renderer: renderer,

		errorStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),
		warnStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		successStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),
		infoStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
		dimStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}),
		headerStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}),
	}
}

// Println writes text with a newline.
func (w *Writer) Println(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Markdown renders markdown, falling back to the raw text when rendering fails.
func (w *Writer) Markdown(md string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.renderer == nil {
		fmt.Fprintln(w.out, md)
		return nil
	}

	rendered, err := w.renderer.Render(md)
	if err != nil {
		fmt.Fprintln(w.out, md)
		return err
	}
	fmt.Fprint(w.out, rendered)
	return nil
}

// Error prints an error message in red.
func (w *Writer) Error(format string, args ...any) {
	w.line(w.errorStyle, "error: "+fmt.Sprintf(format, args...))
}

// Warn prints a warning message in yellow.
func (w *Writer) Warn(format string, args ...any) {
	w.line(w.warnStyle, fmt.Sprintf(format, args...))
}

// Success prints a message in green.
func (w *Writer) Success(format string, args ...any) {
	w.line(w.successStyle, fmt.Sprintf(format, args...))
}

// Failure prints a message in red without the error prefix.
func (w *Writer) Failure(format string, args ...any) {
	w.line(w.errorStyle, fmt.Sprintf(format, args...))
}

// Info prints an info message in blue.
func (w *Writer) Info(format string, args ...any) {
	w.line(w.infoStyle, fmt.Sprintf(format, args...))
}

// Dim prints secondary text.
func (w *Writer) Dim(format string, args ...any) {
	w.line(w.dimStyle, fmt.Sprintf(format, args...))
}

// Header prints a section header.
func (w *Writer) Header(title string) {
	w.line(w.headerStyle, title)
}

// Divider prints a horizontal rule sized to the terminal.
func (w *Writer) Divider() {
	w.line(w.dimStyle, strings.Repeat("─", min(terminalWidth()-4, 60)))
}

func (w *Writer) line(style lipgloss.Style, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, style.Render(msg))
}

// terminalWidth returns the width of stdout, defaulting to 80.
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width == 0 {
		return 80
	}
	return width
}
