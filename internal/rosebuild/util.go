package rosebuild

import (
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
)

// console is where uncolored output goes. It always matches the gookit/color
// output so plain and styled lines interleave in the same stream.
var console io.Writer = os.Stdout

// setConsole redirects both styled and plain output to w.
func setConsole(w io.Writer) {
	console = w
	color.SetOutput(w)
}

// resetConsole restores stdout as the output for both printers.
func resetConsole() {
	console = os.Stdout
	color.ResetOutput()
}

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to plain output when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Fprintf(console, format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln prints a line with the given style or falls back to plain output when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Fprintln(console, a...)
		return
	}
	p.Println(a...)
}

// arrowf prints the "-> " marker followed by a success-styled message.
func arrowf(format string, a ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format, a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(console, format, args...)
	}
}
