// Package pipeline implements the structural side of software pipelining:
// unrolling a loop body before optimization and partitioning the scheduled
// kernel into preamble, kernel and postamble afterwards.
package pipeline

import (
	"fmt"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
	"github.com/slothy-optimizer/slothy-go/pkg/parser"
)

// Unroll concatenates u copies of the loop body. Symbolic temporaries
// (names written before they are read) are renamed per copy so the copies
// do not serialize on reused scratch names; loop-carried names (read
// before written) keep their shared name, preserving the recurrence.
func Unroll(body []*asm.Instruction, u int, am arch.Model) []*asm.Instruction {
	if u <= 1 {
		return body
	}
	carried := carriedNames(body, am)
	var out []*asm.Instruction
	for copyIdx := 0; copyIdx < u; copyIdx++ {
		for _, instr := range body {
			c := instr.Clone()
			if copyIdx > 0 {
				for i, op := range c.Operands {
					c.Operands[i] = parser.MapRegisterTokens(op, func(tok string) string {
						if _, isArch := am.ClassOf(tok); isArch {
							return tok
						}
						if carried[tok] {
							return tok
						}
						return fmt.Sprintf("%s_u%d", tok, copyIdx)
					})
				}
			}
			out = append(out, c)
		}
	}
	return out
}

// carriedNames returns the symbolic names that are live across the
// backedge: read in the body before being written
func carriedNames(body []*asm.Instruction, am arch.Model) map[string]bool {
	carried := make(map[string]bool)
	written := make(map[string]bool)
	for _, instr := range body {
		shape, err := am.Classify(instr)
		if err != nil {
			continue // surfaces later in the DFG builder
		}
		for _, slot := range shape.Slots {
			if slot.Reg == "" || !slot.Role.Reads() {
				continue
			}
			if !written[slot.Reg] {
				carried[slot.Reg] = true
			}
		}
		for _, slot := range shape.Slots {
			if slot.Reg != "" && slot.Role.Writes() {
				written[slot.Reg] = true
			}
		}
	}
	return carried
}

// Partition splits a scheduled kernel into the three pipelined sections.
// kernel holds all instructions in kernel order; early flags mark the
// instructions lifted into the previous iteration. The preamble runs the
// early instructions of iteration 0, the postamble the non-early
// instructions of the final iteration.
func Partition(kernel []*asm.Instruction, early []bool) (pre, post []*asm.Instruction) {
	for i, instr := range kernel {
		if early[i] {
			pre = append(pre, instr.Clone())
		} else {
			post = append(post, instr.Clone())
		}
	}
	return pre, post
}
