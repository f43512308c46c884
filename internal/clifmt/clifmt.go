package clifmt

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	codeHeader  = "1;36"
	codeSuccess = "32"
	codeWarn    = "33"
	codeDim     = "2"
	codeKey     = "1;33"
)

func Headerf(format string, args ...any) string {
	return colorize(codeHeader, fmt.Sprintf(format, args...))
}

func Success(text string) string { return colorize(codeSuccess, text) }

func Warn(text string) string { return colorize(codeWarn, text) }

func Dim(text string) string { return colorize(codeDim, text) }

func Key(text string) string { return colorize(codeKey, text) }

// LinkState colors a link state name: verified green, pending yellow,
// anything else dimmed.
func LinkState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "verified":
		return Success(state)
	case "pending":
		return Warn(state)
	default:
		return Dim(state)
	}
}

func colorize(code string, text string) string {
	if !useColor() {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

// useColor follows NO_COLOR and TERM=dumb; LINKKEEPER_FORCE_COLOR wins over
// both for piped output.
func useColor() bool {
	if os.Getenv("LINKKEEPER_FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
