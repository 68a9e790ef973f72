// Package selfcheck independently verifies the optimizer's output: the
// emitted block must be a permutation of the input whose data-flow graph
// matches, with every live range renamed consistently. A failure here is
// an internal bug; the caller rejects the output.
package selfcheck

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
	"github.com/slothy-optimizer/slothy-go/pkg/parser"
)

// Options configures one verification
type Options struct {
	Loop bool
	// Early flags by input index (loop mode)
	Early []bool
	// Preamble/Postamble as emitted (loop mode)
	Preamble  []*asm.Instruction
	Postamble []*asm.Instruction
	// Renames reports the architectural register assigned to an input
	// instruction's operand slot
	Renames func(node, slot int) (string, bool)
	// Graph-construction knobs, mirrored from the optimize call
	Alias            dfg.AliasPolicy
	AllowLoadReorder bool
	Hints            map[string]arch.RegClass
}

// Verify checks output (the scheduled block; the kernel in loop mode)
// against input under the permutation perm (input index to output
// position)
func Verify(input, output []*asm.Instruction, perm []int, am arch.Model, opts Options) error {
	n := len(input)
	if len(output) != n {
		return fmt.Errorf("output has %d instructions, input has %d", len(output), n)
	}
	if err := checkBijection(perm, n); err != nil {
		return err
	}
	for i, instr := range input {
		if got := output[perm[i]].Mnemonic; got != instr.Mnemonic {
			return fmt.Errorf("instruction %d: mnemonic %q became %q", i, instr.Mnemonic, got)
		}
	}

	if opts.Loop {
		return verifyLoop(input, output, perm, am, opts)
	}
	return verifyStraight(input, output, perm, am, opts)
}

func verifyStraight(input, output []*asm.Instruction, perm []int, am arch.Model, opts Options) error {
	if err := checkMultiset(input, output); err != nil {
		return err
	}

	gIn, err := buildGraph(input, am, opts, false)
	if err != nil {
		return fmt.Errorf("rebuilding input graph: %v", err)
	}
	gOut, err := buildGraph(output, am, opts, false)
	if err != nil {
		return fmt.Errorf("rebuilding output graph: %v", err)
	}

	// index output register edges by endpoint pair
	outEdges := make(map[[2]int]bool)
	regEdges := 0
	for _, e := range gOut.Edges {
		if e.Producer.IsVirtual() || e.Consumer.IsVirtual() {
			continue
		}
		if e.Kind == dfg.MemoryDep {
			continue
		}
		outEdges[[2]int{e.Producer.SourceIndex, e.Consumer.SourceIndex}] = true
		regEdges++
	}

	inRegEdges := 0
	for _, e := range gIn.Edges {
		if e.Producer.IsVirtual() || e.Consumer.IsVirtual() {
			continue
		}
		p, c := e.Producer.SourceIndex, e.Consumer.SourceIndex
		if e.Kind == dfg.MemoryDep {
			if perm[p] >= perm[c] {
				return fmt.Errorf("memory ordering violated: instructions %d and %d swapped", p, c)
			}
			continue
		}
		inRegEdges++
		if !outEdges[[2]int{perm[p], perm[c]}] {
			return fmt.Errorf("dependency %d -> %d has no matching edge in the output", p, c)
		}
	}
	if inRegEdges != regEdges {
		return fmt.Errorf("output has %d register dependencies, input has %d", regEdges, inRegEdges)
	}

	return checkRenameConsistency(gIn, opts)
}

func verifyLoop(input, output []*asm.Instruction, perm []int, am arch.Model, opts Options) error {
	n := len(input)
	if len(opts.Preamble)+len(opts.Postamble) != n {
		return fmt.Errorf("preamble (%d) + postamble (%d) do not form one iteration of %d",
			len(opts.Preamble), len(opts.Postamble), n)
	}
	// preamble ; kernel ; postamble must be two full iterations
	combined := append(append(append([]*asm.Instruction{}, opts.Preamble...), output...), opts.Postamble...)
	doubled := append(append([]*asm.Instruction{}, input...), input...)
	if err := checkMultiset(doubled, combined); err != nil {
		return err
	}

	gIn, err := buildGraph(input, am, opts, true)
	if err != nil {
		return fmt.Errorf("rebuilding input graph: %v", err)
	}

	// effective position of each input instruction in the pipelined
	// schedule: early instructions run one kernel length ahead
	eff := func(i int) int {
		p := perm[i]
		if opts.Early != nil && opts.Early[i] {
			p -= n
		}
		return p
	}
	for _, e := range gIn.Edges {
		if e.Producer.IsVirtual() || e.Consumer.IsVirtual() {
			continue
		}
		p, c := e.Producer.SourceIndex, e.Consumer.SourceIndex
		shift := 0
		if e.Cross {
			shift = n
		}
		if eff(c)+shift <= eff(p) {
			return fmt.Errorf("pipelined ordering violated on dependency %d -> %d", p, c)
		}
	}

	return checkRenameConsistency(gIn, opts)
}

// checkRenameConsistency verifies that both ends of every register
// dependency received the same architectural register
func checkRenameConsistency(g *dfg.Graph, opts Options) error {
	if opts.Renames == nil {
		return nil
	}
	for _, e := range g.Edges {
		if e.Kind == dfg.MemoryDep || e.Producer.IsVirtual() || e.Consumer.IsVirtual() {
			continue
		}
		pr, okP := opts.Renames(e.Producer.SourceIndex, e.ProducerSlot)
		cr, okC := opts.Renames(e.Consumer.SourceIndex, e.ConsumerSlot)
		if !okP || !okC {
			return fmt.Errorf("missing rename on dependency %d -> %d", e.Producer.SourceIndex, e.Consumer.SourceIndex)
		}
		if pr != cr {
			return fmt.Errorf("inconsistent renaming on dependency %d -> %d: %q vs %q",
				e.Producer.SourceIndex, e.Consumer.SourceIndex, pr, cr)
		}
	}
	return nil
}

func buildGraph(instrs []*asm.Instruction, am arch.Model, opts Options, loop bool) (*dfg.Graph, error) {
	return dfg.Build(instrs, am, dfg.Config{
		Hints:            opts.Hints,
		Alias:            opts.Alias,
		AllowLoadReorder: opts.AllowLoadReorder,
		Loop:             loop,
	})
}

func checkBijection(perm []int, n int) error {
	if len(perm) != n {
		return fmt.Errorf("permutation has length %d, want %d", len(perm), n)
	}
	seen := make([]bool, n)
	for i, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return fmt.Errorf("permutation is not a bijection at index %d", i)
		}
		seen[p] = true
	}
	return nil
}

// checkMultiset compares the instruction multisets by shape: mnemonic
// plus immediate operands, register operands wildcarded
func checkMultiset(a, b []*asm.Instruction) error {
	ka, kb := shapeKeys(a), shapeKeys(b)
	if len(ka) != len(kb) {
		return fmt.Errorf("instruction counts differ: %d vs %d", len(ka), len(kb))
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return fmt.Errorf("instruction multisets differ: %q vs %q", ka[i], kb[i])
		}
	}
	return nil
}

func shapeKeys(instrs []*asm.Instruction) []string {
	keys := make([]string, 0, len(instrs))
	for _, instr := range instrs {
		parts := []string{instr.Mnemonic}
		for _, op := range instr.Operands {
			// wildcard register tokens; immediates and punctuation remain
			parts = append(parts, parser.MapRegisterTokens(op, func(string) string { return "_" }))
		}
		keys = append(keys, strings.Join(parts, " "))
	}
	sort.Strings(keys)
	return keys
}
