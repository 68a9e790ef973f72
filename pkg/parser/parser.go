// Package parser turns assembly source text into an asm.Program.
// The dialect is line-oriented: labels ("name:"), instructions with
// comma-separated operands, assembler directives, "//" comments and
// whole-line "#" comments. Register alias pragmas (".req"/".unreq") and
// macro definitions (".macro"/".endm") are resolved here, so downstream
// passes only ever see plain instructions.
package parser

import (
	"fmt"
	"strings"

	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// Parser accumulates errors while parsing
type Parser struct {
	errors  []string
	aliases map[string]string
	macros  map[string]*macro
}

// New creates a new Parser
func New() *Parser {
	return &Parser{
		aliases: make(map[string]string),
		macros:  make(map[string]*macro),
	}
}

// Errors returns the parse errors encountered so far
func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) errorf(line int, format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
}

// ParseProgram parses a whole source file. Macro definitions are collected
// and expanded, alias pragmas applied. The returned program contains only
// labels, instructions, remaining directives and verbatim lines.
func (p *Parser) ParseProgram(src string) *asm.Program {
	lines := strings.Split(src, "\n")
	prog := &asm.Program{}

	var curMacro *macro
	for idx, raw := range lines {
		num := idx + 1
		if idx == len(lines)-1 && raw == "" {
			continue // trailing newline
		}

		code, comment := splitComment(raw)
		trimmed := strings.TrimSpace(code)
		indent := leadingWhitespace(raw)

		// Inside a macro definition, collect the body until .endm
		if curMacro != nil {
			if isEndm(trimmed) {
				p.macros[curMacro.name] = curMacro
				curMacro = nil
			} else {
				curMacro.body = append(curMacro.body, raw)
			}
			continue
		}

		switch {
		case trimmed == "":
			prog.Statements = append(prog.Statements, &asm.Verbatim{Text: raw, Line: num})

		case strings.HasPrefix(strings.TrimSpace(raw), "#"):
			prog.Statements = append(prog.Statements, &asm.Verbatim{Text: raw, Line: num})

		case isMacroStart(trimmed):
			m, err := parseMacroHeader(trimmed)
			if err != nil {
				p.errorf(num, "%v", err)
				continue
			}
			curMacro = m

		case isAliasPragma(trimmed):
			p.applyAliasPragma(trimmed, num)

		case strings.HasPrefix(trimmed, "."):
			prog.Statements = append(prog.Statements, &asm.Directive{Text: trimmed, Indent: indent, Line: num})

		case isLabel(trimmed):
			name := strings.TrimSuffix(strings.Fields(trimmed)[0], ":")
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, name+":"))
			prog.Statements = append(prog.Statements, &asm.Label{Name: name, Indent: indent, Comment: comment, Line: num})
			if rest != "" {
				p.parseInstructionInto(prog, rest, indent, "", num)
			}

		default:
			p.parseInstructionInto(prog, trimmed, indent, comment, num)
		}
	}

	if curMacro != nil {
		p.errors = append(p.errors, fmt.Sprintf("macro %q not closed by .endm", curMacro.name))
	}

	return prog
}

func (p *Parser) parseInstructionInto(prog *asm.Program, text, indent, comment string, num int) {
	instr := p.parseInstruction(text, indent, comment, num)
	if instr == nil {
		return
	}
	if m, ok := p.macros[instr.Mnemonic]; ok {
		expanded, err := m.expand(instr.Operands)
		if err != nil {
			p.errorf(num, "%v", err)
			return
		}
		sub := New()
		sub.aliases = p.aliases
		sub.macros = p.macros
		subProg := sub.ParseProgram(expanded)
		p.errors = append(p.errors, sub.errors...)
		prog.Statements = append(prog.Statements, subProg.Statements...)
		return
	}
	prog.Statements = append(prog.Statements, instr)
}

func (p *Parser) parseInstruction(text, indent, comment string, num int) *asm.Instruction {
	mnemonic, rest := splitMnemonic(text)
	if mnemonic == "" {
		p.errorf(num, "cannot parse instruction %q", text)
		return nil
	}
	ops := SplitOperands(rest)
	for i, op := range ops {
		ops[i] = p.applyAliases(op)
	}
	return &asm.Instruction{
		Mnemonic: strings.ToLower(mnemonic),
		Operands: ops,
		Indent:   indent,
		Comment:  comment,
		Line:     num,
	}
}

// applyAliasPragma handles "name .req reg" and ".unreq name"
func (p *Parser) applyAliasPragma(text string, num int) {
	fields := strings.Fields(text)
	if fields[0] == ".unreq" {
		if len(fields) != 2 {
			p.errorf(num, ".unreq expects one operand")
			return
		}
		delete(p.aliases, fields[1])
		return
	}
	// name .req reg
	if len(fields) != 3 || fields[1] != ".req" {
		p.errorf(num, "malformed .req pragma %q", text)
		return
	}
	p.aliases[fields[0]] = fields[2]
}

// applyAliases replaces aliased register tokens inside one operand
func (p *Parser) applyAliases(op string) string {
	if len(p.aliases) == 0 {
		return op
	}
	return MapRegisterTokens(op, func(tok string) string {
		if r, ok := p.aliases[tok]; ok {
			return r
		}
		return tok
	})
}

// splitComment separates code from a trailing "//" comment
func splitComment(line string) (code, comment string) {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+2:])
	}
	return line, ""
}

func leadingWhitespace(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return s[:i]
		}
	}
	return s
}

func isLabel(s string) bool {
	i := 0
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return i > 0 && i < len(s) && s[i] == ':'
}

func isAliasPragma(s string) bool {
	if strings.HasPrefix(s, ".unreq ") {
		return true
	}
	fields := strings.Fields(s)
	return len(fields) == 3 && fields[1] == ".req"
}

func splitMnemonic(s string) (mnemonic, rest string) {
	i := 0
	for i < len(s) && !isSpace(s[i]) {
		i++
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// SplitOperands splits an operand list on commas at bracket depth zero, so
// "[r0, #4]" and "{q0, q1}" stay single operands. A post-index immediate
// is folded back into its memory operand: "[r0], #4" is one operand.
func SplitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))

	var merged []string
	for _, op := range out {
		n := len(merged)
		if n > 0 && strings.HasSuffix(merged[n-1], "]") && strings.HasPrefix(op, "#") {
			merged[n-1] = merged[n-1] + ", " + op
			continue
		}
		merged = append(merged, op)
	}
	return merged
}

// MapRegisterTokens applies f to every identifier token in an operand,
// leaving punctuation and immediates in place
func MapRegisterTokens(op string, f func(string) string) string {
	var b strings.Builder
	i := 0
	for i < len(op) {
		c := op[i]
		if isIdentStart(c) {
			j := i
			for j < len(op) && isIdentChar(op[j]) {
				j++
			}
			b.WriteString(f(op[i:j]))
			i = j
			continue
		}
		if c == '#' {
			// immediate: copy through to the next comma/bracket
			j := i
			for j < len(op) && op[j] != ',' && op[j] != ']' && op[j] != '}' {
				j++
			}
			b.WriteString(op[i:j])
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' }
func isIdentStart(c byte) bool { return c == '_' || c == '.' || isLetter(c) }
func isIdentChar(c byte) bool  { return c == '_' || c == '.' || isLetter(c) || isDigit(c) }
func isLetter(c byte) bool     { return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' }
func isDigit(c byte) bool      { return '0' <= c && c <= '9' }
