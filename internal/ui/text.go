package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Formatter renders one kind of CLI value. With color it paints the text;
// without color it falls back to the prefix and suffix decorations.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

// Sprint formats the arguments like fmt.Sprint.
func (f Formatter) Sprint(a ...interface{}) string {
	return f.render(fmt.Sprint(a...))
}

// Sprintf formats like fmt.Sprintf.
func (f Formatter) Sprintf(format string, a ...interface{}) string {
	return f.render(fmt.Sprintf(format, a...))
}

func (f Formatter) render(text string) string {
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// noColor honours NO_COLOR (https://no-color.org/) and fatih/color's own
// terminal detection.
func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

// EnsureNewline ensures the string ends with a newline character.
func EnsureNewline(s string) string {
	if !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

var (
	// Code formats commands, e.g. `keyward device begin`.
	Code = Formatter{color.New(color.FgYellow), "`", "`"}

	// Path formats file paths.
	Path = Formatter{color.New(color.FgYellow), "", ""}

	// Flag formats CLI flags.
	Flag = Formatter{color.New(color.FgYellow), "", ""}

	// Success, Error, Warning and Info color status lines.
	Success = Formatter{color.New(color.FgGreen), "", ""}
	Error   = Formatter{color.New(color.FgRed), "", ""}
	Warning = Formatter{color.New(color.FgYellow), "", ""}
	Info    = Formatter{color.New(color.FgCyan), "", ""}

	// KeyID formats key identifiers and chunk tags.
	KeyID = Formatter{color.New(color.FgMagenta, color.Bold), "[", "]"}

	// Device formats device identifiers and keyspaces.
	Device = Formatter{color.New(color.FgCyan), "'", "'"}

	// Muted formats secondary text.
	Muted = Formatter{color.New(color.FgHiBlack), "(", ")"}
)

// Status line markers.
func Check() string { return Success.Sprint("✓") }
func Cross() string { return Error.Sprint("✗") }
func Arrow() string { return Info.Sprint("→") }

// Table writes rows as aligned columns under a header line.
func Table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
