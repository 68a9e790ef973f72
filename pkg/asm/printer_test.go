package asm

import (
	"bytes"
	"testing"
)

func TestFormatInstruction(t *testing.T) {
	tests := []struct {
		name string
		in   *Instruction
		want string
	}{
		{
			name: "plain",
			in:   &Instruction{Mnemonic: "vadd", Operands: []string{"q0", "q1", "q2"}, Indent: "        "},
			want: "        vadd q0, q1, q2",
		},
		{
			name: "with comment",
			in:   &Instruction{Mnemonic: "vldrw", Operands: []string{"q0", "[r0]"}, Indent: "\t", Comment: "*..."},
			want: "\tvldrw q0, [r0] // *...",
		},
		{
			name: "no operands",
			in:   &Instruction{Mnemonic: "nop"},
			want: "nop",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatInstruction(tc.in); got != tc.want {
				t.Errorf("FormatInstruction = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPrintProgram(t *testing.T) {
	prog := &Program{Statements: []Statement{
		&Verbatim{Text: "// header"},
		&Label{Name: "start"},
		&Instruction{Mnemonic: "vadd", Operands: []string{"q0", "q1", "q2"}, Indent: "        "},
		&Directive{Text: ".align 4", Indent: "        "},
	}}
	var buf bytes.Buffer
	NewPrinter(&buf).PrintProgram(prog)
	want := "// header\nstart:\n        vadd q0, q1, q2\n        .align 4\n"
	if buf.String() != want {
		t.Errorf("printed:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestInstructionClone(t *testing.T) {
	orig := &Instruction{Mnemonic: "vadd", Operands: []string{"q0", "q1", "q2"}}
	c := orig.Clone()
	c.Operands[0] = "q7"
	if orig.Operands[0] != "q0" {
		t.Error("Clone must not share the operand slice")
	}
}
