package sgxbuild

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// FormatFlags renders flags as aligned "name = value" lines, sorted by name.
// When only is non-empty, names without that substring are skipped.
func FormatFlags(flags ToolchainFlags, only string) []string {
	keys := flags.Keys()
	width := 0
	for _, k := range keys {
		if strings.Contains(k, only) && len(k) > width {
			width = len(k)
		}
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.Contains(k, only) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-*s = %s", width, k, flags[k]))
	}
	return lines
}

// RunPager shows lines in a scrollable view when stdout is a terminal that
// cannot fit them, and prints them plainly otherwise.
func RunPager(title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return printLines(os.Stdout, lines)
	}
	// Border takes two rows.
	if _, height, err := term.GetSize(fd); err == nil && len(lines) <= height-2 {
		return printLines(os.Stdout, lines)
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(" " + title + " ")
	textView.SetText(strings.Join(lines, "\n"))

	footer := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText("Use ↑/↓, PgUp/PgDn, Home/End to scroll. Press 'q' or 'Esc' to quit.")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(textView).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}

func printLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
