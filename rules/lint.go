package rules

import (
	"errors"
	"fmt"
	"io"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

const maxLintWarnings = 20

// Lint parses style as inline declaration block and reports problems found.
// Styles are injected as is regardless of the result, warnings are advisory.
func Lint(style string) []string {
	if len(strings.TrimSpace(style)) == 0 {
		return nil
	}

	var (
		warnings []string
		decls    int
	)
	p := css.NewParser(parse.NewInputString(style), true)
	for len(warnings) < maxLintWarnings {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			err := p.Err()
			if err == nil || errors.Is(err, io.EOF) {
				if decls == 0 && len(warnings) == 0 {
					warnings = append(warnings, "no declarations found")
				}
				return warnings
			}
			warnings = append(warnings, err.Error())
		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			decls++
			if len(trimValues(p.Values())) == 0 {
				warnings = append(warnings, fmt.Sprintf("property %q has no value", string(data)))
			}
		}
	}
	return warnings
}

func trimValues(vals []css.Token) []css.Token {
	for len(vals) > 0 && vals[0].TokenType == css.WhitespaceToken {
		vals = vals[1:]
	}
	for len(vals) > 0 && vals[len(vals)-1].TokenType == css.WhitespaceToken {
		vals = vals[:len(vals)-1]
	}
	return vals
}
