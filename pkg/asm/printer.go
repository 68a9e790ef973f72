package asm

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs assembly statements in GNU as syntax
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new assembly printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram outputs an entire program
func (p *Printer) PrintProgram(prog *Program) {
	for _, s := range prog.Statements {
		p.PrintStatement(s)
	}
}

// PrintStatement outputs one statement on its own line
func (p *Printer) PrintStatement(s Statement) {
	switch st := s.(type) {
	case *Label:
		if st.Comment != "" {
			fmt.Fprintf(p.w, "%s%s: // %s\n", st.Indent, st.Name, st.Comment)
		} else {
			fmt.Fprintf(p.w, "%s%s:\n", st.Indent, st.Name)
		}
	case *Instruction:
		fmt.Fprintf(p.w, "%s\n", FormatInstruction(st))
	case *Directive:
		fmt.Fprintf(p.w, "%s%s\n", st.Indent, st.Text)
	case *Verbatim:
		fmt.Fprintf(p.w, "%s\n", st.Text)
	}
}

// FormatInstruction renders one instruction, including its trailing comment
func FormatInstruction(i *Instruction) string {
	var b strings.Builder
	b.WriteString(i.Indent)
	b.WriteString(i.Mnemonic)
	if len(i.Operands) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(i.Operands, ", "))
	}
	if i.Comment != "" {
		b.WriteString(" // ")
		b.WriteString(i.Comment)
	}
	return b.String()
}
