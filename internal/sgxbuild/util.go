package sgxbuild

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Sprintf(format string, a ...any) string
	Sprint(a ...any) string
}

// stdout belongs to the host build system, so every human-facing line goes to stderr.

// cPrintf prints with a colored style or falls back to plain text when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Fprintf(os.Stderr, format, a...)
		return
	}
	fmt.Fprint(os.Stderr, p.Sprintf(format, a...))
}

// cPrintln prints a line with the given style or falls back to plain text when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Fprintln(os.Stderr, a...)
		return
	}
	fmt.Fprintln(os.Stderr, p.Sprint(a...))
}

// step prints the "-> message" progress line used throughout the CLI.
func step(format string, a ...any) {
	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, format+"\n", a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// setupColor turns colors off when stderr is not a terminal (build logs, CI).
func setupColor() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		color.Disable()
	}
}
