package modelgen

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
	"github.com/slothy-optimizer/slothy-go/pkg/cp"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
	"github.com/slothy-optimizer/slothy-go/pkg/uarch"
)

func instr(line int, mnemonic string, operands ...string) *asm.Instruction {
	return &asm.Instruction{Mnemonic: mnemonic, Operands: operands, Line: line}
}

func buildGraph(t *testing.T, cfg dfg.Config, body ...*asm.Instruction) *dfg.Graph {
	t.Helper()
	g, err := dfg.Build(body, arch.NewArmv81M(), cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestEncodeVariableLayout(t *testing.T) {
	g := buildGraph(t, dfg.Config{},
		instr(1, "vldrw", "q0", "[r0]"),
		instr(2, "vstrw", "q0", "[r1]"),
	)
	enc, err := Encode(g, arch.NewArmv81M(), uarch.CortexM55(), Options{Stalls: 2})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(enc.Pos) != 2 || len(enc.Cycle) != 2 {
		t.Fatalf("pos/cycle variables: %d/%d, want 2/2", len(enc.Pos), len(enc.Cycle))
	}
	if enc.Early != nil {
		t.Error("early variables should not exist outside loop mode")
	}
	for _, p := range enc.Pos {
		if p.Lo != 0 || p.Hi != 1 {
			t.Errorf("position domain [%d,%d], want [0,1]", p.Lo, p.Hi)
		}
	}
	for _, c := range enc.Cycle {
		if c.Lo != 0 || c.Hi != 3 {
			t.Errorf("cycle domain [%d,%d], want [0,3]", c.Lo, c.Hi)
		}
	}
}

func TestEncodeRangesUnifyRAWSlots(t *testing.T) {
	g := buildGraph(t, dfg.Config{},
		instr(1, "vldrw", "q0", "[r0]"),
		instr(2, "vstrw", "q0", "[r1]"),
	)
	enc, err := Encode(g, arch.NewArmv81M(), uarch.CortexM55(), Options{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// q0's write slot on the load and read slot on the store share a range
	w, okW := enc.RangeOf[SlotKey{Node: 0, Slot: 0}]
	r, okR := enc.RangeOf[SlotKey{Node: 1, Slot: 0}]
	if !okW || !okR {
		t.Fatal("both q0 slots should be in the range map")
	}
	if w != r {
		t.Errorf("RAW-linked slots landed in different ranges: %d vs %d", w, r)
	}
	if got := enc.Ranges[w].Pin; got != "q0" {
		t.Errorf("architectural q0 should be pinned, got %q", got)
	}
}

func TestEncodeMinimumStallsForLatency(t *testing.T) {
	// two dependent instructions with producer latency 2 and issue width 1
	// need exactly latency-1 = 1 stall
	g := buildGraph(t, dfg.Config{},
		instr(1, "vldrw", "q0", "[r0]"),
		instr(2, "vstrw", "q0", "[r1]"),
	)
	am, um := arch.NewArmv81M(), uarch.CortexM55()
	solver := cp.NewBacktracker()

	enc, err := Encode(g, am, um, Options{Stalls: 0})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := solver.Solve(context.Background(), enc.Model); !errors.Is(err, cp.ErrUnsat) {
		t.Fatalf("stalls 0 should be infeasible, got %v", err)
	}

	enc, err = Encode(g, am, um, Options{Stalls: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	sol, err := solver.Solve(context.Background(), enc.Model)
	if err != nil {
		t.Fatalf("stalls 1 should be feasible: %v", err)
	}
	if got := sol.Value(enc.Cycle[1]) - sol.Value(enc.Cycle[0]); got < 2 {
		t.Errorf("cycle gap %d, want >= 2", got)
	}
}

func TestEncodePositionsAreAPermutation(t *testing.T) {
	g := buildGraph(t, dfg.Config{},
		instr(1, "vldrw", "q0", "[r0]"),
		instr(2, "vldrw", "q1", "[r1]"),
		instr(3, "vadd", "q2", "q0", "q1"),
	)
	enc, err := Encode(g, arch.NewArmv81M(), uarch.CortexM55(), Options{Stalls: 4})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	sol, err := cp.NewBacktracker().Solve(context.Background(), enc.Model)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	seen := map[int]bool{}
	for _, p := range enc.Pos {
		v := sol.Value(p)
		if seen[v] {
			t.Fatal("positions are not all-different")
		}
		seen[v] = true
	}
}

func TestEncodeInPlaceDestination(t *testing.T) {
	// vmla reads and writes its accumulator through one slot, so the
	// incoming value and the result share a register by construction
	g := buildGraph(t, dfg.Config{},
		instr(1, "vldrw", "acc", "[r0]"),
		instr(2, "vmla", "acc", "q1", "r2"),
		instr(3, "vstrw", "acc", "[r1]"),
	)
	enc, err := Encode(g, arch.NewArmv81M(), uarch.CortexM55(), Options{Stalls: 8})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	load, _ := enc.RangeOf[SlotKey{Node: 0, Slot: 0}]
	mla, okM := enc.RangeOf[SlotKey{Node: 1, Slot: 0}]
	store, _ := enc.RangeOf[SlotKey{Node: 2, Slot: 0}]
	if !okM || load != mla || mla != store {
		t.Errorf("accumulator slots should share one range: %d %d %d", load, mla, store)
	}
}

func TestEncodeLoopVariables(t *testing.T) {
	g := buildGraph(t, dfg.Config{Loop: true},
		instr(1, "ldr", "x0", "[src], #4"),
		instr(2, "add", "acc", "acc", "x0"),
	)
	enc, err := Encode(g, arch.NewArmv81M(), uarch.CortexM55(), Options{Stalls: 2, Loop: true, MinimizeEarly: true})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(enc.Early) != 2 {
		t.Fatalf("early variables: %d, want 2", len(enc.Early))
	}
	if enc.Model.Objective == nil {
		t.Error("minimize-early objective missing")
	}
	sol, err := cp.NewBacktracker().Solve(context.Background(), enc.Model)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	if sol.Objective != 0 {
		t.Errorf("a free loop body should pipeline with 0 early instructions, got %d", sol.Objective)
	}
}

func TestEncodeDumpMentionsConstraints(t *testing.T) {
	g := buildGraph(t, dfg.Config{},
		instr(1, "vldrw", "q0", "[r0]"),
		instr(2, "vstrw", "q0", "[r1]"),
	)
	enc, err := Encode(g, arch.NewArmv81M(), uarch.CortexM55(), Options{Stalls: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var buf bytes.Buffer
	enc.Model.Dump(&buf)
	for _, want := range []string{"alldifferent", "pos_i0_vldrw", "cyc_i1_vstrw"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("model dump should mention %q\n%s", want, buf.String())
		}
	}
}
