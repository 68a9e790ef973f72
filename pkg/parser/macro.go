package parser

import (
	"fmt"
	"strings"
)

// macro is a ".macro name args" definition collected during parsing
type macro struct {
	name   string
	params []string
	body   []string
}

func isMacroStart(s string) bool {
	return strings.HasPrefix(s, ".macro ") || s == ".macro"
}

func isEndm(s string) bool {
	return s == ".endm"
}

// parseMacroHeader parses ".macro name a, b, c"
func parseMacroHeader(s string) (*macro, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(s, ".macro"))
	if rest == "" {
		return nil, fmt.Errorf(".macro without a name")
	}
	name, args := splitMnemonic(rest)
	m := &macro{name: strings.ToLower(name)}
	if args != "" {
		for _, a := range strings.FieldsFunc(args, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if a != "" {
				m.params = append(m.params, a)
			}
		}
	}
	return m, nil
}

// expand substitutes "\param" references in the macro body with the call
// arguments and returns the resulting source text
func (m *macro) expand(args []string) (string, error) {
	if len(args) != len(m.params) {
		return "", fmt.Errorf("macro %q expects %d arguments, got %d", m.name, len(m.params), len(args))
	}
	repl := make([]string, 0, 2*len(m.params))
	for i, p := range m.params {
		repl = append(repl, `\`+p, args[i])
	}
	r := strings.NewReplacer(repl...)
	var b strings.Builder
	for _, line := range m.body {
		b.WriteString(r.Replace(line))
		b.WriteString("\n")
	}
	return b.String(), nil
}
