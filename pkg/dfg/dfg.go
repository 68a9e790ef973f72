// Package dfg builds the data-flow graph of a straight-line block of
// classified instructions. Nodes wrap instructions; edges link the
// producer of a register value (or memory state) to its consumers. After
// construction register names are irrelevant: two nodes depend on each
// other iff an edge connects them.
package dfg

import (
	"fmt"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// EdgeKind classifies a dependency edge
type EdgeKind int

const (
	// RegisterDep is a true (RAW) dependency carried by a register; the
	// renamer must assign producer and consumer slots the same register
	RegisterDep EdgeKind = iota
	// MemoryDep orders two memory-touching instructions that may alias;
	// it constrains scheduling only, never renaming
	MemoryDep
	// FlagDep is a RAW dependency on the condition flags
	FlagDep
)

func (k EdgeKind) String() string {
	switch k {
	case RegisterDep:
		return "reg"
	case MemoryDep:
		return "mem"
	case FlagDep:
		return "flag"
	}
	return "?"
}

// Node wraps one instruction in the graph. SourceIndex is the position in
// the input block; virtual nodes use -1.
type Node struct {
	ID          int
	SourceIndex int
	Instr       *asm.Instruction
	Shape       *arch.Shape
	// Producers maps read-slot index to the edge delivering its value
	Producers map[int]*Edge
	// Consumers lists edges where this node is the producer
	Consumers []*Edge
}

// IsVirtual reports whether the node is the virtual source or sink
func (n *Node) IsVirtual() bool { return n.SourceIndex < 0 }

// Edge is a directed, typed dependency
type Edge struct {
	Producer     *Node
	ProducerSlot int
	Consumer     *Node
	ConsumerSlot int
	Kind         EdgeKind
	// Cross marks a loop-carried dependency: the consumer reads the value
	// the producer wrote in the previous iteration
	Cross bool
}

// Graph is the result of building
type Graph struct {
	Nodes  []*Node // real nodes in source order
	Source *Node
	Sink   *Node
	Edges  []*Edge
	// Classes maps every register name in the block (symbolic or
	// architectural) to its resolved class
	Classes map[string]arch.RegClass
	// Inputs lists live-in names in first-use order
	Inputs []string
	// Outputs lists the declared output names
	Outputs []string
}

// InputSlot returns the virtual-source write slot carrying the given
// live-in name, or -1
func (g *Graph) InputSlot(name string) int {
	for i, s := range g.Source.Shape.Slots {
		if s.Reg == name {
			return i
		}
	}
	return -1
}

func (g *Graph) addEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
	e.Producer.Consumers = append(e.Producer.Consumers, e)
	if e.Kind == RegisterDep || e.Kind == FlagDep {
		if !e.Cross {
			e.Consumer.Producers[e.ConsumerSlot] = e
		}
	}
}

// Dump writes a human-readable listing of the graph
func (g *Graph) Dump() string {
	s := ""
	for _, e := range g.Edges {
		cross := ""
		if e.Cross {
			cross = " (cross)"
		}
		s += fmt.Sprintf("%s: node %d slot %d -> node %d slot %d%s\n",
			e.Kind, e.Producer.ID, e.ProducerSlot, e.Consumer.ID, e.ConsumerSlot, cross)
	}
	return s
}
