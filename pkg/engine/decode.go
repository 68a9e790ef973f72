package engine

import (
	"sort"

	"github.com/slothy-optimizer/slothy-go/pkg/cp"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
	"github.com/slothy-optimizer/slothy-go/pkg/modelgen"
	"github.com/slothy-optimizer/slothy-go/pkg/parser"
	"github.com/slothy-optimizer/slothy-go/pkg/pipeline"
)

// decode turns a satisfying assignment back into a concrete instruction
// listing with renamed registers and issue-glyph annotations
func decode(g *dfg.Graph, enc *modelgen.Encoding, sol *cp.Solution, loop bool) *Result {
	n := len(g.Nodes)
	res := &Result{
		Permutation:  make([]int, n),
		Cycles:       make([]int, n),
		SlotRenames:  make(map[SlotRef]string),
		InputRenames: make(map[string]string),
		Loop:         loop,
	}
	if loop {
		res.Early = make([]bool, n)
	}

	for i := range g.Nodes {
		res.Permutation[i] = sol.Value(enc.Pos[i])
		res.Cycles[i] = sol.Value(enc.Cycle[i])
		if loop && sol.Value(enc.Early[i]) == 1 {
			res.Early[i] = true
			res.EarlyCount++
		}
	}

	// register assignment per slot
	regOf := func(rangeIdx int) string {
		r := enc.Ranges[rangeIdx]
		return r.Regs[sol.Value(r.Var)]
	}
	for i, node := range g.Nodes {
		for si, slot := range node.Shape.Slots {
			if slot.Reg == "" {
				continue
			}
			if rIdx, ok := enc.RangeOf[modelgen.SlotKey{Node: i, Slot: si}]; ok {
				res.SlotRenames[SlotRef{Node: i, Slot: si}] = regOf(rIdx)
			}
		}
	}
	for si, slot := range g.Source.Shape.Slots {
		if rIdx, ok := enc.RangeOf[modelgen.SlotKey{Node: -1, Slot: si}]; ok {
			res.InputRenames[slot.Reg] = regOf(rIdx)
		}
	}

	// emit in position order
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return res.Permutation[order[a]] < res.Permutation[order[b]]
	})

	var earlyInOrder []bool
	for _, i := range order {
		node := g.Nodes[i]
		instr := node.Instr.Clone()
		for si, slot := range node.Shape.Slots {
			if slot.Reg == "" || slot.Operand < 0 {
				continue
			}
			reg, ok := res.SlotRenames[SlotRef{Node: i, Slot: si}]
			if !ok {
				continue
			}
			old := slot.Reg
			instr.Operands[slot.Operand] = parser.MapRegisterTokens(instr.Operands[slot.Operand],
				func(tok string) string {
					if tok == old {
						return reg
					}
					return tok
				})
		}
		instr.Comment = issueGlyph(res.Cycles[i], enc.CycleLen, loop && res.Early[i])
		res.Lines = append(res.Lines, instr)
		if loop {
			earlyInOrder = append(earlyInOrder, res.Early[i])
		}
	}

	if loop {
		res.Preamble, res.Postamble = pipeline.Partition(res.Lines, earlyInOrder)
		res.KernelInputs, res.KernelOutputs = kernelLiveRegisters(g, enc, sol)
	}
	return res
}

// issueGlyph renders the per-line schedule annotation: one column per
// cycle of the window, '*' at the issue cycle, 'e' for early instructions
func issueGlyph(cycle, cycleLen int, early bool) string {
	if cycleLen < 1 {
		cycleLen = 1
	}
	glyph := make([]byte, cycleLen)
	for i := range glyph {
		glyph[i] = '.'
	}
	mark := byte('*')
	if early {
		mark = 'e'
	}
	if cycle >= 0 && cycle < cycleLen {
		glyph[cycle] = mark
	}
	return string(glyph)
}

// kernelLiveRegisters reports the architectural registers live into and
// out of the kernel: the assigned registers of the live-in ranges, and of
// the ranges carried across the backedge or declared as outputs
func kernelLiveRegisters(g *dfg.Graph, enc *modelgen.Encoding, sol *cp.Solution) (ins, outs []string) {
	seenIn := make(map[string]bool)
	seenOut := make(map[string]bool)
	regOf := func(rangeIdx int) string {
		r := enc.Ranges[rangeIdx]
		return r.Regs[sol.Value(r.Var)]
	}

	for si := range g.Source.Shape.Slots {
		if rIdx, ok := enc.RangeOf[modelgen.SlotKey{Node: -1, Slot: si}]; ok {
			if reg := regOf(rIdx); !seenIn[reg] {
				seenIn[reg] = true
				ins = append(ins, reg)
			}
		}
	}
	for _, e := range g.Edges {
		if e.Kind == dfg.MemoryDep {
			continue
		}
		isOut := e.Cross || e.Consumer == g.Sink
		if !isOut || e.Producer.IsVirtual() {
			continue
		}
		key := modelgen.SlotKey{Node: e.Producer.SourceIndex, Slot: e.ProducerSlot}
		if rIdx, ok := enc.RangeOf[key]; ok {
			if reg := regOf(rIdx); !seenOut[reg] {
				seenOut[reg] = true
				outs = append(outs, reg)
			}
		}
	}
	sort.Strings(ins)
	sort.Strings(outs)
	return ins, outs
}
