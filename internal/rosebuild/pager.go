package rosebuild

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// viewLatestLog shows the newest session log of the workspace.
func viewLatestLog(logsDir string) error {
	path, err := newestLog(logsDir)
	if err != nil {
		return err
	}
	rc, err := openLog(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	lines, err := readLines(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return RunPager(filepath.Base(path), lines)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	// Compiler diagnostics can produce very long lines.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// RunPager takes a slice of lines and displays them in a scrollable TUI if stdout is a TTY.
// If stdout is not a TTY, it prints the lines normally.
func RunPager(title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return printLines(console, lines)
	}

	// Short logs fit on screen without the TUI; 2 rows are the border.
	if _, height, err := term.GetSize(fd); err == nil && len(lines) <= height-2 {
		return printLines(console, lines)
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(" " + title + " ")

	// Session logs keep the color escapes of the console.
	fmt.Fprint(tview.ANSIWriter(textView), strings.Join(lines, "\n"))
	textView.ScrollToEnd()

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]Use ↑/↓, PgUp/PgDn, Home/End to scroll. Press 'q' or 'Esc' to quit.[white]")

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
