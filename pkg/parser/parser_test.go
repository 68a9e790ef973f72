package parser

import (
	"strings"
	"testing"

	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

func TestParseInstructionLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		mnemonic string
		operands []string
	}{
		{
			name:     "three register operands",
			input:    "        vadd q0, q1, q2",
			mnemonic: "vadd",
			operands: []string{"q0", "q1", "q2"},
		},
		{
			name:     "memory operand stays whole",
			input:    "        vldrw q0, [r0, #16]",
			mnemonic: "vldrw",
			operands: []string{"q0", "[r0, #16]"},
		},
		{
			name:     "post-indexed memory operand",
			input:    "        ldr r2, [r0], #4",
			mnemonic: "ldr",
			operands: []string{"r2", "[r0], #4"},
		},
		{
			name:     "mnemonic is lowercased",
			input:    "        VADD q0, q1, q2",
			mnemonic: "vadd",
			operands: []string{"q0", "q1", "q2"},
		},
		{
			name:     "immediate operand",
			input:    "        vshr q0, q1, #2",
			mnemonic: "vshr",
			operands: []string{"q0", "q1", "#2"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := New()
			prog := p.ParseProgram(tc.input + "\n")
			if len(p.Errors()) > 0 {
				t.Fatalf("unexpected errors: %v", p.Errors())
			}
			instrs := prog.Instructions()
			if len(instrs) != 1 {
				t.Fatalf("expected 1 instruction, got %d", len(instrs))
			}
			instr := instrs[0]
			if instr.Mnemonic != tc.mnemonic {
				t.Errorf("mnemonic = %q, want %q", instr.Mnemonic, tc.mnemonic)
			}
			if len(instr.Operands) != len(tc.operands) {
				t.Fatalf("operands = %v, want %v", instr.Operands, tc.operands)
			}
			for i, op := range tc.operands {
				if instr.Operands[i] != op {
					t.Errorf("operand %d = %q, want %q", i, instr.Operands[i], op)
				}
			}
		})
	}
}

func TestParseLabelsAndComments(t *testing.T) {
	src := `// file comment
start:
        vadd q0, q1, q2 // trailing
end:
`
	p := New()
	prog := p.ParseProgram(src)
	if len(p.Errors()) > 0 {
		t.Fatalf("unexpected errors: %v", p.Errors())
	}
	if len(prog.Statements) != 4 {
		t.Fatalf("expected 4 statements, got %d", len(prog.Statements))
	}
	if _, ok := prog.Statements[0].(*asm.Verbatim); !ok {
		t.Errorf("statement 0 should be a verbatim comment line")
	}
	lbl, ok := prog.Statements[1].(*asm.Label)
	if !ok || lbl.Name != "start" {
		t.Errorf("statement 1 should be label start, got %#v", prog.Statements[1])
	}
	instr, ok := prog.Statements[2].(*asm.Instruction)
	if !ok {
		t.Fatalf("statement 2 should be an instruction")
	}
	if instr.Comment != "trailing" {
		t.Errorf("comment = %q, want %q", instr.Comment, "trailing")
	}
}

func TestRegisterAliases(t *testing.T) {
	src := `acc .req q0
        vadd acc, q1, q2
.unreq acc
        vadd acc2, acc, q2
`
	p := New()
	prog := p.ParseProgram(src)
	instrs := prog.Instructions()
	if len(instrs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(instrs))
	}
	if instrs[0].Operands[0] != "q0" {
		t.Errorf("alias should substitute: got %q, want q0", instrs[0].Operands[0])
	}
	// after .unreq, acc passes through as a symbolic name
	if instrs[1].Operands[1] != "acc" {
		t.Errorf("after .unreq operand = %q, want acc", instrs[1].Operands[1])
	}
}

func TestMacroExpansion(t *testing.T) {
	src := `.macro addpair d, a, b
        vadd \d, \a, \b
.endm
        addpair q0, q1, q2
        addpair q3, q4, q5
`
	p := New()
	prog := p.ParseProgram(src)
	if len(p.Errors()) > 0 {
		t.Fatalf("unexpected errors: %v", p.Errors())
	}
	instrs := prog.Instructions()
	if len(instrs) != 2 {
		t.Fatalf("expected 2 expanded instructions, got %d", len(instrs))
	}
	if instrs[0].Mnemonic != "vadd" || instrs[0].Operands[0] != "q0" {
		t.Errorf("first expansion wrong: %v %v", instrs[0].Mnemonic, instrs[0].Operands)
	}
	if instrs[1].Operands[2] != "q5" {
		t.Errorf("second expansion wrong: %v", instrs[1].Operands)
	}
}

func TestMacroArgumentMismatch(t *testing.T) {
	src := `.macro addpair d, a, b
        vadd \d, \a, \b
.endm
        addpair q0, q1
`
	p := New()
	p.ParseProgram(src)
	if len(p.Errors()) == 0 {
		t.Fatal("expected an argument-count error")
	}
	if !strings.Contains(p.Errors()[0], "addpair") {
		t.Errorf("error should name the macro: %v", p.Errors()[0])
	}
}

func TestExtractRegion(t *testing.T) {
	src := `.text
setup:
        mov r0, #0
start:
        vadd q0, q1, q2
        vsub q3, q0, q1
end:
        mov r1, #1
`
	p := New()
	prog := p.ParseProgram(src)
	region, err := Extract(prog, "start", "end")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(region.Body) != 2 {
		t.Fatalf("body has %d instructions, want 2", len(region.Body))
	}
	if region.Body[0].Mnemonic != "vadd" || region.Body[1].Mnemonic != "vsub" {
		t.Errorf("body = %v, %v", region.Body[0].Mnemonic, region.Body[1].Mnemonic)
	}
	// the window labels stay outside the body
	if len(region.Pre) == 0 || len(region.Post) == 0 {
		t.Errorf("pre/post should keep surrounding statements")
	}
}

func TestExtractMissingLabel(t *testing.T) {
	p := New()
	prog := p.ParseProgram("        vadd q0, q1, q2\n")
	if _, err := Extract(prog, "nope", ""); err == nil {
		t.Fatal("expected an error for a missing start label")
	}
}

func TestExtractLoop(t *testing.T) {
	src := `        mov lr, #16
loop:
        vldrw q0, [r0]
        vstrw q0, [r1]
        le lr, loop
        mov r0, #0
`
	p := New()
	prog := p.ParseProgram(src)
	loop, err := ExtractLoop(prog, "loop")
	if err != nil {
		t.Fatalf("ExtractLoop failed: %v", err)
	}
	if len(loop.Body) != 2 {
		t.Fatalf("body has %d instructions, want 2", len(loop.Body))
	}
	if loop.Branch == nil || loop.Branch.Mnemonic != "le" {
		t.Errorf("branch = %#v", loop.Branch)
	}
	if len(loop.Post) != 1 {
		t.Errorf("post should hold the trailing instruction")
	}
}

func TestExtractLoopNoBranch(t *testing.T) {
	src := "loop:\n        vadd q0, q1, q2\n"
	p := New()
	prog := p.ParseProgram(src)
	if _, err := ExtractLoop(prog, "loop"); err == nil {
		t.Fatal("expected an error for a loop without a closing branch")
	}
}

func TestSplitOperands(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"q0, q1, q2", []string{"q0", "q1", "q2"}},
		{"q0, [r0, #4]", []string{"q0", "[r0, #4]"}},
		{"r2, [r0], #4", []string{"r2", "[r0], #4"}},
		{"", nil},
	}
	for _, tc := range tests {
		got := SplitOperands(tc.input)
		if len(got) != len(tc.want) {
			t.Errorf("SplitOperands(%q) = %v, want %v", tc.input, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("SplitOperands(%q)[%d] = %q, want %q", tc.input, i, got[i], tc.want[i])
			}
		}
	}
}
