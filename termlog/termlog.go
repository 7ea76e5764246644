// Package termlog is the status-line terminal logger: write a line, clear
// the screen, move the cursor by a relative line count, and query terminal
// width/TTY-ness. Fancy (ANSI + color) vs. plain rendering is selected once
// at construction, never re-probed mid-compile — a redraw always assumes
// the line count has not changed since the previous one.
package termlog

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Logger writes the redrawable status line and timeline entries.
type Logger struct {
	out   io.Writer
	fancy bool

	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	mutedStyle   lipgloss.Style
}

// New builds a Logger writing to w. fancy selects ANSI/color rendering;
// use IsFancy to decide it from the environment.
func New(w io.Writer, fancy bool) *Logger {
	renderer := lipgloss.NewRenderer(w)
	renderer.SetColorProfile(colorProfile(fancy))

	return &Logger{
		out:          w,
		fancy:        fancy,
		errorStyle:   renderer.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		successStyle: renderer.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		mutedStyle:   renderer.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func colorProfile(fancy bool) lipgloss.ColorProfileKind {
	if fancy {
		return lipgloss.TrueColor
	}
	return lipgloss.Ascii
}

// IsFancy reports whether fancy rendering should be enabled for the given
// stream: stream is a TTY, NO_COLOR is unset, and the platform is not
// Windows.
func IsFancy(stream *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if runtime.GOOS == "windows" {
		return false
	}
	return isatty.IsTerminal(stream.Fd()) || isatty.IsCygwinTerminal(stream.Fd())
}

// WriteLine writes one line, terminated by a newline.
func (l *Logger) WriteLine(s string) {
	fmt.Fprintln(l.out, s)
}

// Error renders s in the error style (bold red in fancy mode, plain text
// otherwise) and writes it as one line.
func (l *Logger) Error(s string) {
	l.WriteLine(l.errorStyle.Render(s))
}

// Success renders s in the success style.
func (l *Logger) Success(s string) {
	l.WriteLine(l.successStyle.Render(s))
}

// Muted renders s in a dimmed style, used for timeline entries that are
// not the current focus (e.g. "not interesting" watcher events).
func (l *Logger) Muted(s string) {
	l.WriteLine(l.mutedStyle.Render(s))
}

// ClearScreen clears the terminal and homes the cursor. A no-op in plain
// mode, since plain output is meant to be redirectable/appendable.
func (l *Logger) ClearScreen() {
	if !l.fancy {
		return
	}
	fmt.Fprint(l.out, "\x1b[2J\x1b[H")
}

// MoveCursor moves the cursor up (negative) or down (positive) by the
// given number of lines, relative to its current position. Used to redraw
// the status line in place; callers must keep the printed line count
// stable between the move and the next write, since this is a relative
// move, not an absolute one.
func (l *Logger) MoveCursor(lines int) {
	if !l.fancy || lines == 0 {
		return
	}
	if lines < 0 {
		fmt.Fprintf(l.out, "\x1b[%dA", -lines)
	} else {
		fmt.Fprintf(l.out, "\x1b[%dB", lines)
	}
}

// Width returns the terminal's column width and whether the stream is a
// TTY at all. When the stream is not a TTY (or the width cannot be
// determined), a sane fallback width is returned alongside isTTY=false.
func Width(stream *os.File) (width int, isTTY bool) {
	if !isatty.IsTerminal(stream.Fd()) && !isatty.IsCygwinTerminal(stream.Fd()) {
		return 80, false
	}
	w, _, err := term.GetSize(int(stream.Fd()))
	if err != nil || w <= 0 {
		return 80, true
	}
	return w, true
}
