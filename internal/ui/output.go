// Package ui prints colored progress and summaries for the CLI
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)
)

var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// SetOutput redirects informational output and error output
func SetOutput(stdout, stderr io.Writer) {
	out = stdout
	errOut = stderr
}

// HeaderWidth is the width of the rule Header draws
const HeaderWidth = 60

// Header prints text centered between two rules
func Header(text string) {
	line := strings.Repeat("=", HeaderWidth)
	green.Fprintf(out, "\n%s\n", line)
	green.Fprintf(out, "%s\n", center(text, HeaderWidth))
	green.Fprintf(out, "%s\n\n", line)
}

// Step prints which input of the run is being processed
func Step(stepNum, totalSteps int, text string) {
	yellow.Fprintf(out, "[%d/%d] %s\n", stepNum, totalSteps, text)
}

// Success prints a success message
func Success(text string) {
	green.Fprintf(out, "  → %s\n", text)
}

// Info prints an info message
func Info(text string) {
	fmt.Fprintf(out, "  → %s\n", text)
}

// Warning prints a warning message
func Warning(text string) {
	yellow.Fprintf(errOut, "  ⚠ %s\n", text)
}

// Error prints an error message
func Error(text string) {
	red.Fprintf(errOut, "Error: %s\n", text)
}

// center left-pads text so it sits in the middle of width columns
func center(text string, width int) string {
	n := utf8.RuneCountInString(text)
	if n >= width {
		return text
	}
	return strings.Repeat(" ", (width-n)/2) + text
}
