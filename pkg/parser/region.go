package parser

import (
	"fmt"
	"strings"

	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// Region is an extracted optimization window: the statements before the
// window, the instructions inside it, and the statements after it.
type Region struct {
	Pre  []asm.Statement
	Body []*asm.Instruction
	Post []asm.Statement
}

// Extract cuts the window delimited by the start and end labels out of a
// program. An empty start label means the window begins at the first
// statement; an empty end label means it runs to the last. The delimiting
// labels themselves stay in Pre/Post.
func Extract(prog *asm.Program, startLabel, endLabel string) (*Region, error) {
	r := &Region{}
	const (
		beforeStart = iota
		inBody
		afterEnd
	)
	state := beforeStart
	if startLabel == "" {
		state = inBody
	}
	for _, s := range prog.Statements {
		lbl, isLbl := s.(*asm.Label)
		switch state {
		case beforeStart:
			r.Pre = append(r.Pre, s)
			if isLbl && lbl.Name == startLabel {
				state = inBody
			}
		case inBody:
			if isLbl && lbl.Name == endLabel {
				state = afterEnd
				r.Post = append(r.Post, s)
				continue
			}
			switch st := s.(type) {
			case *asm.Instruction:
				r.Body = append(r.Body, st)
			case *asm.Verbatim:
				// blank lines inside the window are dropped
			default:
				return nil, fmt.Errorf("unexpected statement inside optimization window at line %d", statementLine(s))
			}
		case afterEnd:
			r.Post = append(r.Post, s)
		}
	}
	if state == beforeStart {
		return nil, fmt.Errorf("start label %q not found", startLabel)
	}
	if endLabel != "" && state == inBody {
		return nil, fmt.Errorf("end label %q not found", endLabel)
	}
	return r, nil
}

// LoopRegion is an extracted loop: everything before the loop label, the
// loop body, the backwards branch closing the loop, and everything after.
type LoopRegion struct {
	Pre    []asm.Statement
	Label  string
	Body   []*asm.Instruction
	Branch *asm.Instruction
	Post   []asm.Statement
}

// ExtractLoop locates "label:" and the loop-closing branch whose last
// operand names the label, and returns the instructions in between.
func ExtractLoop(prog *asm.Program, label string) (*LoopRegion, error) {
	r := &LoopRegion{Label: label}
	const (
		beforeLoop = iota
		inLoop
		afterLoop
	)
	state := beforeLoop
	for _, s := range prog.Statements {
		switch state {
		case beforeLoop:
			r.Pre = append(r.Pre, s)
			if lbl, ok := s.(*asm.Label); ok && lbl.Name == label {
				state = inLoop
			}
		case inLoop:
			instr, ok := s.(*asm.Instruction)
			if !ok {
				if _, blank := s.(*asm.Verbatim); blank {
					continue
				}
				return nil, fmt.Errorf("unexpected statement inside loop %q at line %d", label, statementLine(s))
			}
			if isLoopBranch(instr, label) {
				r.Branch = instr
				state = afterLoop
				continue
			}
			r.Body = append(r.Body, instr)
		case afterLoop:
			r.Post = append(r.Post, s)
		}
	}
	if state == beforeLoop {
		return nil, fmt.Errorf("loop label %q not found", label)
	}
	if r.Branch == nil {
		return nil, fmt.Errorf("loop %q has no closing branch", label)
	}
	return r, nil
}

// isLoopBranch reports whether the instruction branches back to the label.
// Covers plain branches (b, bne, cbnz, ...) and the low-overhead loop-end
// instruction (le lr, label).
func isLoopBranch(i *asm.Instruction, label string) bool {
	if len(i.Operands) == 0 {
		return false
	}
	last := strings.TrimSpace(i.Operands[len(i.Operands)-1])
	return last == label
}

func statementLine(s asm.Statement) int {
	switch st := s.(type) {
	case *asm.Label:
		return st.Line
	case *asm.Instruction:
		return st.Line
	case *asm.Directive:
		return st.Line
	case *asm.Verbatim:
		return st.Line
	}
	return 0
}
