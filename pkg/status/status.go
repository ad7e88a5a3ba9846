// Package status implements the injected status sink an import loop
// reports progress and per-package failures through, grounded on the
// teacher's pkg/display Display/Task interfaces and pkg/cli theme.
package status

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Sink receives progress and error reports from an import run.
type Sink interface {
	Status(format string, args ...any)
	Error(format string, args ...any)
}

// NullSink discards everything. Used in tests.
type NullSink struct{}

func (NullSink) Status(string, ...any) {}
func (NullSink) Error(string, ...any)  {}

// ConsoleSink writes colored status/error lines to an io.Writer,
// defaulting to stderr, the way the teacher's consoleDisplay writes to
// os.Stderr with a mutex-guarded writer.
type ConsoleSink struct {
	mu        sync.Mutex
	out       io.Writer
	statusTag lipgloss.Style
	errorTag  lipgloss.Style
}

// NewConsole returns a Sink writing to stderr.
func NewConsole() *ConsoleSink {
	return NewConsoleWriter(os.Stderr)
}

// NewConsoleWriter returns a Sink writing to w, e.g. for tests.
func NewConsoleWriter(w io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:       w,
		statusTag: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		errorTag:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func (c *ConsoleSink) Status(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(c.out, "%s %s\n", c.statusTag.Render("status:"), msg)
	slog.Info(msg)
}

func (c *ConsoleSink) Error(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(c.out, "%s %s\n", c.errorTag.Render("error:"), msg)
	slog.Error(msg)
}
