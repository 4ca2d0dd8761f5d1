//go:build !windows

package config

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// CleanFileName turns archive name into a single path element for output
// directory. Separators become underscores, leading dots are dropped so result
// is never hidden or relative.
func CleanFileName(in string) string {
	out := strings.Map(func(sym rune) rune {
		switch sym {
		case 0, os.PathSeparator, os.PathListSeparator:
			return '_'
		}
		return sym
	}, strings.TrimSpace(in))
	out = strings.TrimLeft(out, ".")
	if len(out) == 0 {
		return "_"
	}
	return out
}

// EnableColorOutput reports if log lines written to stream could be colored.
func EnableColorOutput(stream *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(stream.Fd()))
}
