package dfg

import (
	"fmt"
	"sort"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// Config controls graph construction
type Config struct {
	// Inputs declares the live-in registers: symbolic name (or
	// architectural register) to architectural pin, "" for a free choice.
	// When empty, every name read before being written becomes an implicit
	// free input; when non-empty, reading an undeclared symbolic name is
	// fatal.
	Inputs map[string]string
	// Outputs declares required output registers: name to pin
	Outputs map[string]string
	// Hints resolves register-class conflicts for symbolic names
	Hints map[string]arch.RegClass
	// Alias decides memory-dependency edges; nil means ConservativeAlias
	Alias AliasPolicy
	// AllowLoadReorder permits two loads to swap; when false, loads are
	// chained in program order
	AllowLoadReorder bool
	// Loop adds cross-iteration edges for values written in the body and
	// read at its top
	Loop bool
}

type producer struct {
	node *Node
	slot int
}

type memAccess struct {
	node    *Node
	ref     MemRef
	isStore bool
}

// Build constructs the data-flow graph of a block
func Build(instrs []*asm.Instruction, am arch.Model, cfg Config) (*Graph, error) {
	if cfg.Alias == nil {
		cfg.Alias = ConservativeAlias
	}

	g := &Graph{
		Classes: make(map[string]arch.RegClass),
		Source:  &Node{ID: 0, SourceIndex: -1, Shape: &arch.Shape{Mnemonic: "<source>"}, Producers: map[int]*Edge{}},
		Sink:    &Node{ID: len(instrs) + 1, SourceIndex: -1, Shape: &arch.Shape{Mnemonic: "<sink>"}, Producers: map[int]*Edge{}},
	}

	// Classify everything up front so class resolution sees all uses
	shapes := make([]*arch.Shape, len(instrs))
	for i, instr := range instrs {
		shape, err := am.Classify(instr)
		if err != nil {
			return nil, err
		}
		shapes[i] = shape
	}

	if err := resolveClasses(g, instrs, shapes, am, cfg.Hints); err != nil {
		return nil, err
	}

	cur := make(map[string]producer)
	var mem []memAccess

	for i, instr := range instrs {
		n := &Node{
			ID:          i + 1,
			SourceIndex: i,
			Instr:       instr,
			Shape:       shapes[i],
			Producers:   make(map[int]*Edge),
		}
		g.Nodes = append(g.Nodes, n)

		// read slots first, then writes; a read-write slot does both
		for si, slot := range n.Shape.Slots {
			if slot.Reg == "" || !slot.Role.Reads() {
				continue
			}
			p, ok := cur[slot.Reg]
			if !ok {
				var err error
				p, err = g.declareInput(slot.Reg, am, cfg, instr.Line)
				if err != nil {
					return nil, err
				}
				cur[slot.Reg] = p
			}
			kind := RegisterDep
			if slot.Class == arch.Flags {
				kind = FlagDep
			}
			g.addEdge(&Edge{
				Producer: p.node, ProducerSlot: p.slot,
				Consumer: n, ConsumerSlot: si,
				Kind: kind,
			})
		}
		for si, slot := range n.Shape.Slots {
			if slot.Reg == "" || !slot.Role.Writes() {
				continue
			}
			cur[slot.Reg] = producer{node: n, slot: si}
		}

		// memory ordering edges
		if n.Shape.IsLoad || n.Shape.IsStore {
			ref := MemRef{Base: n.Shape.AddrBase, Offset: n.Shape.AddrOffset, Writeback: n.Shape.Writeback}
			g.addMemEdges(n, ref, n.Shape.IsStore, mem, cfg)
			mem = append(mem, memAccess{node: n, ref: ref, isStore: n.Shape.IsStore})
		}
	}

	// connect declared outputs to the virtual sink
	for _, name := range sortedKeys(cfg.Outputs) {
		p, ok := cur[name]
		if !ok {
			return nil, fmt.Errorf("output register %q is never written", name)
		}
		class, ok := g.Classes[name]
		if !ok {
			class = arch.GPR
		}
		si := len(g.Sink.Shape.Slots)
		g.Sink.Shape.Slots = append(g.Sink.Shape.Slots, arch.Slot{
			Role: arch.Read, Class: class, Reg: name, Operand: -1, Pin: cfg.Outputs[name], SameAs: -1,
		})
		g.addEdge(&Edge{
			Producer: p.node, ProducerSlot: p.slot,
			Consumer: g.Sink, ConsumerSlot: si,
			Kind: RegisterDep,
		})
		g.Outputs = append(g.Outputs, name)
	}

	if cfg.Loop {
		g.addCrossEdges(cur)
	}

	return g, nil
}

// declareInput registers a live-in name on the virtual source node
func (g *Graph) declareInput(name string, am arch.Model, cfg Config, line int) (producer, error) {
	pin := ""
	if _, isArch := am.ClassOf(name); isArch {
		pin = name
	} else if len(cfg.Inputs) > 0 {
		declared, ok := cfg.Inputs[name]
		if !ok {
			return producer{}, fmt.Errorf("line %d: read of undefined register %q (not written earlier, not a declared input)", line, name)
		}
		pin = declared
	}
	class := g.Classes[name]
	si := len(g.Source.Shape.Slots)
	g.Source.Shape.Slots = append(g.Source.Shape.Slots, arch.Slot{
		Role: arch.Write, Class: class, Reg: name, Operand: -1, Pin: pin, SameAs: -1,
	})
	g.Inputs = append(g.Inputs, name)
	return producer{node: g.Source, slot: si}, nil
}

// addMemEdges orders a new memory access against the relevant earlier ones
func (g *Graph) addMemEdges(n *Node, ref MemRef, isStore bool, mem []memAccess, cfg Config) {
	if isStore {
		// order after every aliasing load or store back to (and including)
		// the previous aliasing store
		for i := len(mem) - 1; i >= 0; i-- {
			a := mem[i]
			if !cfg.Alias(ref, a.ref) {
				continue
			}
			g.addEdge(&Edge{Producer: a.node, ProducerSlot: -1, Consumer: n, ConsumerSlot: -1, Kind: MemoryDep})
			if a.isStore {
				break
			}
		}
		return
	}
	// load: order after the most recent aliasing store
	for i := len(mem) - 1; i >= 0; i-- {
		a := mem[i]
		if a.isStore && cfg.Alias(ref, a.ref) {
			g.addEdge(&Edge{Producer: a.node, ProducerSlot: -1, Consumer: n, ConsumerSlot: -1, Kind: MemoryDep})
			break
		}
	}
	if !cfg.AllowLoadReorder {
		for i := len(mem) - 1; i >= 0; i-- {
			if !mem[i].isStore {
				g.addEdge(&Edge{Producer: mem[i].node, ProducerSlot: -1, Consumer: n, ConsumerSlot: -1, Kind: MemoryDep})
				break
			}
		}
	}
}

// addCrossEdges turns reads of the loop-carried values into backedge
// dependencies: a value read at the top of the body and rewritten later is
// produced by the previous iteration.
func (g *Graph) addCrossEdges(cur map[string]producer) {
	for _, e := range g.Source.Consumers {
		name := g.Source.Shape.Slots[e.ProducerSlot].Reg
		p, ok := cur[name]
		if !ok || p.node == g.Source {
			continue
		}
		g.addEdge(&Edge{
			Producer: p.node, ProducerSlot: p.slot,
			Consumer: e.Consumer, ConsumerSlot: e.ConsumerSlot,
			Kind: e.Kind, Cross: true,
		})
	}
}

// resolveClasses infers the register class of every name by unifying its
// uses. A hint arbitrates conflicts; a conflict without a hint is fatal.
func resolveClasses(g *Graph, instrs []*asm.Instruction, shapes []*arch.Shape, am arch.Model, hints map[string]arch.RegClass) error {
	for i, shape := range shapes {
		for _, slot := range shape.Slots {
			if slot.Reg == "" {
				continue
			}
			name := slot.Reg
			if c, isArch := am.ClassOf(name); isArch {
				if c != slot.Class {
					return fmt.Errorf("line %d: register %q is %s but %s expects %s",
						instrs[i].Line, name, c, shape.Mnemonic, slot.Class)
				}
				g.Classes[name] = c
				continue
			}
			prev, seen := g.Classes[name]
			if !seen {
				if h, ok := hints[name]; ok {
					g.Classes[name] = h
				} else {
					g.Classes[name] = slot.Class
				}
				continue
			}
			if prev != slot.Class {
				if h, ok := hints[name]; ok {
					g.Classes[name] = h
					continue
				}
				return fmt.Errorf("line %d: register class of %q is ambiguous (%s vs %s); add a typing hint for it",
					instrs[i].Line, name, prev, slot.Class)
			}
		}
	}
	return nil
}

// sortedKeys gives a deterministic iteration order for stable models
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
