// Package engine drives the optimization: it builds the graph, runs the
// stalls search against the solver, decodes the winning assignment and
// hands the output to the self-check. One Optimize call is fully
// self-contained; the Result is the only artifact that outlives it.
package engine

import (
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// SlotRef addresses one operand slot of one input instruction
type SlotRef struct {
	Node int
	Slot int
}

// Result is the durable outcome of a successful optimize call
type Result struct {
	// Stalls is the accepted stall budget
	Stalls int
	// Permutation maps input source index to output position (kernel slot
	// in loop mode)
	Permutation []int
	// Cycles maps input source index to the issue cycle of the schedule
	Cycles []int
	// Early marks instructions lifted into the previous iteration; nil
	// outside loop mode
	Early []bool
	// EarlyCount is the number of early instructions (the loop-mode
	// objective value)
	EarlyCount int
	// Lines is the scheduled block in output order, registers renamed and
	// issue glyphs attached. In loop mode this is the kernel.
	Lines []*asm.Instruction
	// SlotRenames records the architectural register assigned to every
	// register slot of every input instruction
	SlotRenames map[SlotRef]string
	// InputRenames maps each live-in name to its assigned register
	InputRenames map[string]string

	// Loop-mode sections
	Loop          bool
	Preamble      []*asm.Instruction
	Postamble     []*asm.Instruction
	KernelInputs  []string
	KernelOutputs []string
}
