// Package modelgen lowers a data-flow graph plus architecture and
// microarchitecture tables into a CP model describing every valid
// schedule, renaming and (in loop mode) pipelining of the block.
package modelgen

import (
	"fmt"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/cp"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
	"github.com/slothy-optimizer/slothy-go/pkg/uarch"
)

// Options selects the pass being encoded
type Options struct {
	// Stalls is the stall budget of this attempt
	Stalls int
	// Loop enables the software-pipelining variables and shifts
	Loop bool
	// MinimizeEarly adds the minimize-early-count objective (loop mode)
	MinimizeEarly bool
}

// Range is one register live range: a set of RAW-linked operand slots that
// must receive the same architectural register
type Range struct {
	Class arch.RegClass
	// Regs lists the candidate architectural registers; Var indexes it
	Regs []string
	Var  *cp.IntVar
	// Start/End bound the lifetime on the (effective) position axis
	Start *cp.IntVar
	End   *cp.IntVar
	// Pin is the forced register, "" if free
	Pin string
	// DefNode/DefSlot identify the defining write slot; DefNode is -1 for
	// ranges defined by the virtual source
	DefNode int
	DefSlot int
	// Name is the register name the range carries in the source
	Name string
}

// SlotKey addresses one operand slot of one node
type SlotKey struct {
	Node int // index into Graph.Nodes, -1 for source, -2 for sink
	Slot int
}

// Encoding is the emitted model plus the variable map the decoder reads
type Encoding struct {
	Model *cp.Model
	// Pos and Cycle are indexed like Graph.Nodes
	Pos   []*cp.IntVar
	Cycle []*cp.IntVar
	// Early is nil unless Options.Loop
	Early []*cp.IntVar
	// Unit holds, per node, the chosen functional-unit alternative bools
	Unit [][]*cp.IntVar
	// Ranges are the register live ranges; RangeOf maps slots to them
	Ranges  []*Range
	RangeOf map[SlotKey]int
	// CodeSize and CycleLen are the position and cycle kernel lengths
	CodeSize int
	CycleLen int
}

// Encode builds the CP model for one pass
func Encode(g *dfg.Graph, am arch.Model, um *uarch.Model, opt Options) (*Encoding, error) {
	n := len(g.Nodes)
	m := cp.NewModel()
	enc := &Encoding{
		Model:    m,
		RangeOf:  make(map[SlotKey]int),
		CodeSize: n,
		CycleLen: n + opt.Stalls,
	}
	if n == 0 {
		return enc, nil
	}

	// issue-cycle and emission-position variables; the cycle bound is the
	// stalls budget of this attempt
	for i, node := range g.Nodes {
		name := fmt.Sprintf("i%d_%s", i, node.Shape.Mnemonic)
		enc.Pos = append(enc.Pos, m.IntVar("pos_"+name, 0, n-1))
		enc.Cycle = append(enc.Cycle, m.IntVar("cyc_"+name, 0, n-1+opt.Stalls))
	}
	m.Add(&cp.AllDifferent{Vars: enc.Pos})

	if opt.Loop {
		for i, node := range g.Nodes {
			enc.Early = append(enc.Early, m.BoolVar(fmt.Sprintf("early_i%d_%s", i, node.Shape.Mnemonic)))
		}
	}

	// issue width: at most IssueWidth instructions per cycle
	if um.IssueWidth < n {
		m.Add(&cp.CountPerValueLE{Vars: enc.Cycle, Cap: um.IssueWidth})
	}

	encodeUnits(enc, g, um)
	encodeOrdering(enc, g, um, opt)
	if err := encodeRegisters(enc, g, am, opt); err != nil {
		return nil, err
	}

	if opt.Loop && opt.MinimizeEarly {
		obj := m.IntVar("early_count", 0, n)
		terms := []cp.Term{{Coef: -1, Var: obj}}
		for _, e := range enc.Early {
			terms = append(terms, cp.Term{Coef: 1, Var: e})
		}
		m.Add(&cp.LinearEQ{Terms: terms, Bound: 0})
		m.Minimize(obj)
	}

	return enc, nil
}

// encodeUnits emits functional-unit choice and per-cycle capacity
func encodeUnits(enc *Encoding, g *dfg.Graph, um *uarch.Model) {
	m := enc.Model
	enc.Unit = make([][]*cp.IntVar, len(g.Nodes))

	// usage of each unit: (cycle var, active bool) pairs
	type usage struct {
		cyc    *cp.IntVar
		active *cp.IntVar
	}
	byUnit := make(map[string][]usage)
	var unitOrder []string

	for i, node := range g.Nodes {
		alts := um.Units(node.Shape.Mnemonic)
		if len(alts) == 0 {
			continue
		}
		var bools []*cp.IntVar
		if len(alts) == 1 {
			bools = []*cp.IntVar{m.Const(fmt.Sprintf("unit_i%d_0", i), 1)}
		} else {
			for k := range alts {
				bools = append(bools, m.BoolVar(fmt.Sprintf("unit_i%d_%d", i, k)))
			}
			terms := make([]cp.Term, len(bools))
			for k, b := range bools {
				terms[k] = cp.Term{Coef: 1, Var: b}
			}
			m.Add(&cp.LinearEQ{Terms: terms, Bound: 1})
		}
		enc.Unit[i] = bools
		for k, alt := range alts {
			for _, u := range alt {
				if _, seen := byUnit[u]; !seen {
					unitOrder = append(unitOrder, u)
				}
				byUnit[u] = append(byUnit[u], usage{cyc: enc.Cycle[i], active: bools[k]})
			}
		}
	}

	for _, u := range unitOrder {
		uses := byUnit[u]
		capacity := um.Capacity(u)
		if len(uses) <= capacity {
			continue
		}
		vars := make([]*cp.IntVar, len(uses))
		active := make([]*cp.IntVar, len(uses))
		for i, use := range uses {
			vars[i] = use.cyc
			active[i] = use.active
		}
		m.Add(&cp.CountPerValueLE{Vars: vars, Active: active, Cap: capacity})
	}
}

// encodeOrdering emits the dependency constraints, with the
// software-pipelining shift in loop mode
func encodeOrdering(enc *Encoding, g *dfg.Graph, um *uarch.Model, opt Options) {
	m := enc.Model
	for _, e := range g.Edges {
		if e.Producer.IsVirtual() || e.Consumer.IsVirtual() {
			continue
		}
		p := e.Producer.SourceIndex
		c := e.Consumer.SourceIndex

		lat := 1
		if e.Kind != dfg.MemoryDep {
			lat = um.Latency(e.Producer.Shape.Mnemonic, e.Consumer.Shape.Mnemonic)
		}

		if !opt.Loop {
			// cycle[c] >= cycle[p] + lat
			m.Add(&cp.LinearLE{
				Terms: []cp.Term{{Coef: 1, Var: enc.Cycle[p]}, {Coef: -1, Var: enc.Cycle[c]}},
				Bound: -lat,
			})
			// position[c] > position[p]
			m.Add(&cp.LinearLE{
				Terms: []cp.Term{{Coef: 1, Var: enc.Pos[p]}, {Coef: -1, Var: enc.Pos[c]}},
				Bound: -1,
			})
			continue
		}

		// Effective coordinates subtract one kernel length for early
		// nodes. A cross-iteration edge gains one kernel length on the
		// consumer side.
		cycShift, posShift := 0, 0
		if e.Cross {
			cycShift, posShift = enc.CycleLen, enc.CodeSize
		}
		m.Add(&cp.LinearLE{
			Terms: []cp.Term{
				{Coef: 1, Var: enc.Cycle[p]}, {Coef: -enc.CycleLen, Var: enc.Early[p]},
				{Coef: -1, Var: enc.Cycle[c]}, {Coef: enc.CycleLen, Var: enc.Early[c]},
			},
			Bound: -lat + cycShift,
		})
		m.Add(&cp.LinearLE{
			Terms: []cp.Term{
				{Coef: 1, Var: enc.Pos[p]}, {Coef: -enc.CodeSize, Var: enc.Early[p]},
				{Coef: -1, Var: enc.Pos[c]}, {Coef: enc.CodeSize, Var: enc.Early[c]},
			},
			Bound: -1 + posShift,
		})
	}
}
