package modelgen

import (
	"fmt"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/cp"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
)

// encodeRegisters emits the register-allocation part of the model:
// one variable per live range, RAW-linked slots
// unified onto it, pins fixed, and pairwise lifetime disjointness for
// ranges of the same class.
func encodeRegisters(enc *Encoding, g *dfg.Graph, am arch.Model, opt Options) error {
	uf := newUnionFind()

	nodeKey := func(n *dfg.Node, slot int) SlotKey {
		switch {
		case n == g.Source:
			return SlotKey{Node: -1, Slot: slot}
		case n == g.Sink:
			return SlotKey{Node: -2, Slot: slot}
		default:
			return SlotKey{Node: n.SourceIndex, Slot: slot}
		}
	}

	// unify along register and flag edges (RAW linkage)
	for _, e := range g.Edges {
		if e.Kind == dfg.MemoryDep {
			continue
		}
		uf.union(nodeKey(e.Producer, e.ProducerSlot), nodeKey(e.Consumer, e.ConsumerSlot))
	}
	// in-place constraints unify the destination with its source slot
	for _, n := range g.Nodes {
		for si, slot := range n.Shape.Slots {
			if slot.SameAs >= 0 {
				uf.union(nodeKey(n, si), nodeKey(n, slot.SameAs))
			}
		}
	}

	// collect the slots of each range, in deterministic order
	type slotRef struct {
		key  SlotKey
		node *dfg.Node
		slot arch.Slot
	}
	groups := make(map[SlotKey][]slotRef)
	var groupOrder []SlotKey
	visit := func(n *dfg.Node) {
		for si, slot := range n.Shape.Slots {
			if slot.Reg == "" {
				continue
			}
			k := nodeKey(n, si)
			root := uf.find(k)
			if _, seen := groups[root]; !seen {
				groupOrder = append(groupOrder, root)
			}
			groups[root] = append(groups[root], slotRef{key: k, node: n, slot: slot})
		}
	}
	visit(g.Source)
	for _, n := range g.Nodes {
		visit(n)
	}
	visit(g.Sink)

	n := enc.CodeSize
	for _, root := range groupOrder {
		refs := groups[root]
		r := &Range{DefNode: -1, DefSlot: -1}

		liveIn := false
		for _, ref := range refs {
			if ref.node == g.Source {
				liveIn = true
			}
			name := ref.slot.Reg
			r.Name = name
			if class, ok := g.Classes[name]; ok {
				r.Class = class
			}
			// architectural names and explicit pins fix the register
			pin := ref.slot.Pin
			if _, isArch := am.ClassOf(name); isArch {
				pin = name
			}
			if pin != "" {
				pin = am.Canonical(pin)
				if r.Pin != "" && r.Pin != pin {
					return fmt.Errorf("conflicting register pins %q and %q on live range of %q", r.Pin, pin, name)
				}
				r.Pin = pin
			}
			if ref.slot.Role.Writes() && ref.node != g.Source && r.DefNode < 0 {
				r.DefNode = ref.node.SourceIndex
				r.DefSlot = ref.key.Slot
			}
		}

		r.Regs = am.Registers(r.Class)
		if len(r.Regs) == 0 {
			return fmt.Errorf("no allocatable registers in class %s for %q", r.Class, r.Name)
		}

		idx := len(enc.Ranges)
		varName := fmt.Sprintf("reg_r%d_%s", idx, r.Name)
		if r.Pin != "" {
			regIdx := indexOf(r.Regs, r.Pin)
			if regIdx < 0 {
				return fmt.Errorf("register %q is not allocatable in class %s", r.Pin, r.Class)
			}
			r.Var = enc.Model.Const(varName, regIdx)
		} else {
			r.Var = enc.Model.IntVar(varName, 0, len(r.Regs)-1)
		}

		// lifetime interval on the effective position axis; a live-in
		// range is busy from the block entry even if rewritten later
		if opt.Loop {
			if r.DefNode >= 0 && !liveIn {
				r.Start = enc.Model.IntVar(fmt.Sprintf("start_r%d", idx), -n, n-1)
				enc.Model.Add(&cp.LinearEQ{
					Terms: []cp.Term{
						{Coef: 1, Var: r.Start}, {Coef: -1, Var: enc.Pos[r.DefNode]}, {Coef: n, Var: enc.Early[r.DefNode]},
					},
					Bound: 0,
				})
			} else {
				r.Start = enc.Model.Const(fmt.Sprintf("start_r%d", idx), -n)
			}
			r.End = enc.Model.IntVar(fmt.Sprintf("end_r%d", idx), -n, 2*n-1)
		} else {
			if r.DefNode >= 0 && !liveIn {
				r.Start = enc.Pos[r.DefNode]
			} else {
				r.Start = enc.Model.Const(fmt.Sprintf("start_r%d", idx), -1)
			}
			r.End = enc.Model.IntVar(fmt.Sprintf("end_r%d", idx), -1, n-1)
		}
		// End >= Start covers dead writes
		enc.Model.AddPrecedence(r.Start, r.End, 0)

		enc.Ranges = append(enc.Ranges, r)
		for _, ref := range refs {
			enc.RangeOf[ref.key] = idx
		}
	}

	// extend lifetimes to every consumer
	for _, e := range g.Edges {
		if e.Kind == dfg.MemoryDep {
			continue
		}
		rIdx, ok := enc.RangeOf[nodeKey(e.Producer, e.ProducerSlot)]
		if !ok {
			continue
		}
		r := enc.Ranges[rIdx]
		if e.Consumer == g.Sink {
			// outputs stay live to the end of the block
			enc.Model.Add(&cp.LinearLE{
				Terms: []cp.Term{{Coef: -1, Var: r.End}},
				Bound: -(n - 1),
			})
			continue
		}
		c := e.Consumer.SourceIndex
		if !opt.Loop {
			// End >= pos[c]
			enc.Model.AddPrecedence(enc.Pos[c], r.End, 0)
			continue
		}
		shift := 0
		if e.Cross {
			shift = n
		}
		// End >= pos[c] - n*early[c] + shift
		enc.Model.Add(&cp.LinearLE{
			Terms: []cp.Term{
				{Coef: 1, Var: enc.Pos[c]}, {Coef: -n, Var: enc.Early[c]}, {Coef: -1, Var: r.End},
			},
			Bound: -shift,
		})
	}

	// pairwise lifetime disjointness per class
	for i := 0; i < len(enc.Ranges); i++ {
		for j := i + 1; j < len(enc.Ranges); j++ {
			a, b := enc.Ranges[i], enc.Ranges[j]
			if a.Class != b.Class {
				continue
			}
			if a.Pin != "" && b.Pin != "" && a.Pin != b.Pin {
				continue
			}
			enc.Model.Add(&cp.DisjointIfEqual{
				RegA: a.Var, RegB: b.Var,
				AStart: a.Start, AEnd: a.End,
				BStart: b.Start, BEnd: b.End,
			})
		}
	}
	return nil
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}

// unionFind over slot keys
type unionFind struct {
	parent map[SlotKey]SlotKey
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[SlotKey]SlotKey)}
}

func (u *unionFind) find(k SlotKey) SlotKey {
	p, ok := u.parent[k]
	if !ok {
		u.parent[k] = k
		return k
	}
	if p == k {
		return k
	}
	root := u.find(p)
	u.parent[k] = root
	return root
}

func (u *unionFind) union(a, b SlotKey) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
