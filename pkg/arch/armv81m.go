package arch

import (
	"fmt"
	"strings"

	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// operand pattern kinds for the instruction table
type opKind int

const (
	opReg opKind = iota
	opRegOrImm
	opMem
	opImm
	opSym
)

type opSpec struct {
	kind  opKind
	role  Role
	class RegClass
	pin   string
}

type instrSpec struct {
	operands []opSpec
	load     bool
	store    bool
	inPlace  [2]int // dst slot must equal src slot; {-1,-1} if none
}

func reg(role Role, class RegClass) opSpec { return opSpec{kind: opReg, role: role, class: class} }
func regOrImm(class RegClass) opSpec       { return opSpec{kind: opRegOrImm, role: Read, class: class} }
func mem() opSpec                          { return opSpec{kind: opMem} }
func imm() opSpec                          { return opSpec{kind: opImm, role: Imm} }
func sym() opSpec                          { return opSpec{kind: opSym, role: Sym} }
func pinned(role Role, class RegClass, p string) opSpec {
	return opSpec{kind: opReg, role: role, class: class, pin: p}
}

func spec(ops ...opSpec) instrSpec {
	return instrSpec{operands: ops, inPlace: [2]int{-1, -1}}
}

func loadSpec(ops ...opSpec) instrSpec {
	s := spec(ops...)
	s.load = true
	return s
}

func storeSpec(ops ...opSpec) instrSpec {
	s := spec(ops...)
	s.store = true
	return s
}

// Armv81M is the Armv8.1-M + MVE architecture model
type Armv81M struct {
	table map[string]instrSpec
}

// NewArmv81M creates the Armv8.1-M model
func NewArmv81M() *Armv81M {
	t := map[string]instrSpec{
		// MVE loads/stores
		"vldrw": loadSpec(reg(Write, Vector), mem()),
		"vldrh": loadSpec(reg(Write, Vector), mem()),
		"vldrb": loadSpec(reg(Write, Vector), mem()),
		"vstrw": storeSpec(reg(Read, Vector), mem()),
		"vstrh": storeSpec(reg(Read, Vector), mem()),
		"vstrb": storeSpec(reg(Read, Vector), mem()),

		// MVE arithmetic
		"vadd":     spec(reg(Write, Vector), reg(Read, Vector), reg(Read, Vector)),
		"vsub":     spec(reg(Write, Vector), reg(Read, Vector), reg(Read, Vector)),
		"vmul":     spec(reg(Write, Vector), reg(Read, Vector), regOrImm(Vector)),
		"vqrdmulh": spec(reg(Write, Vector), reg(Read, Vector), reg(Read, GPR)),
		"vqdmulh":  spec(reg(Write, Vector), reg(Read, Vector), reg(Read, GPR)),
		"vmla":     spec(reg(ReadWrite, Vector), reg(Read, Vector), reg(Read, GPR)),
		"vfma":     spec(reg(ReadWrite, Vector), reg(Read, Vector), reg(Read, Vector)),
		"vand":     spec(reg(Write, Vector), reg(Read, Vector), reg(Read, Vector)),
		"vorr":     spec(reg(Write, Vector), reg(Read, Vector), reg(Read, Vector)),
		"veor":     spec(reg(Write, Vector), reg(Read, Vector), reg(Read, Vector)),
		"vshr":     spec(reg(Write, Vector), reg(Read, Vector), imm()),
		"vshl":     spec(reg(Write, Vector), reg(Read, Vector), imm()),
		"vmov":     spec(reg(Write, Vector), regOrImm(Vector)),
		"vdup":     spec(reg(Write, Vector), reg(Read, GPR)),

		// scalar loads/stores
		"ldr": loadSpec(reg(Write, GPR), mem()),
		"str": storeSpec(reg(Read, GPR), mem()),

		// scalar arithmetic
		"add":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"sub":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"mul":  spec(reg(Write, GPR), reg(Read, GPR), reg(Read, GPR)),
		"and":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"orr":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"eor":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"lsl":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"lsr":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"asr":  spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"mov":  spec(reg(Write, GPR), regOrImm(GPR)),
		"movw": spec(reg(Write, GPR), imm()),
		"movt": {operands: []opSpec{reg(ReadWrite, GPR), imm()}, inPlace: [2]int{-1, -1}},
		"mla":  spec(reg(Write, GPR), reg(Read, GPR), reg(Read, GPR), reg(Read, GPR)),

		// flag-setting and branches
		"cmp":  spec(reg(Read, GPR), regOrImm(GPR)),
		"subs": spec(reg(Write, GPR), reg(Read, GPR), regOrImm(GPR)),
		"le":   spec(pinned(Read, GPR, "lr"), sym()),
		"b":    spec(sym()),
		"bne":  spec(sym()),
		"cbnz": spec(reg(Read, GPR), sym()),
	}
	return &Armv81M{table: t}
}

// Name identifies the target
func (m *Armv81M) Name() string { return "armv81m" }

// gprRegisters is the allocatable GPR pool: r0-r12 and r14. r13 is the
// stack pointer and r15 the program counter.
var gprRegisters = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "r14",
}

var vectorRegisters = []string{"q0", "q1", "q2", "q3", "q4", "q5", "q6", "q7"}

var predicateRegisters = []string{"p0"}

var flagRegisters = []string{"nzcv"}

// Registers lists the allocatable registers of a class
func (m *Armv81M) Registers(c RegClass) []string {
	switch c {
	case GPR:
		return gprRegisters
	case Vector:
		return vectorRegisters
	case Predicate:
		return predicateRegisters
	case Flags:
		return flagRegisters
	}
	return nil
}

// ClassOf resolves an architectural register name
func (m *Armv81M) ClassOf(name string) (RegClass, bool) {
	switch name {
	case "lr":
		return GPR, true
	case "sp":
		return GPR, true
	case "vpr", "p0":
		return Predicate, true
	case "nzcv":
		return Flags, true
	}
	if len(name) >= 2 && name[0] == 'r' && allDigits(name[1:]) {
		return GPR, true
	}
	if len(name) == 2 && name[0] == 'q' && allDigits(name[1:]) {
		return Vector, true
	}
	return 0, false
}

// Canonical maps register aliases to their Registers name
func (m *Armv81M) Canonical(name string) string {
	switch name {
	case "lr":
		return "r14"
	case "sp":
		return "r13"
	case "vpr":
		return "p0"
	}
	return name
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Classify matches one instruction against the table
func (m *Armv81M) Classify(i *asm.Instruction) (*Shape, error) {
	mnemonic := baseMnemonic(i.Mnemonic)
	sp, ok := m.table[mnemonic]
	if !ok {
		return nil, fmt.Errorf("line %d: unknown mnemonic %q", i.Line, i.Mnemonic)
	}
	if len(i.Operands) != len(sp.operands) {
		return nil, fmt.Errorf("line %d: %s expects %d operands, got %d",
			i.Line, mnemonic, len(sp.operands), len(i.Operands))
	}

	shape := &Shape{Mnemonic: mnemonic, IsLoad: sp.load, IsStore: sp.store}
	for idx, os := range sp.operands {
		text := strings.TrimSpace(i.Operands[idx])
		switch os.kind {
		case opReg:
			shape.Slots = append(shape.Slots, Slot{
				Role: os.role, Class: os.class, Reg: text, Operand: idx, Pin: os.pin, SameAs: -1,
			})
		case opRegOrImm:
			if strings.HasPrefix(text, "#") {
				shape.Slots = append(shape.Slots, Slot{Role: Imm, Operand: idx, SameAs: -1})
			} else {
				shape.Slots = append(shape.Slots, Slot{
					Role: Read, Class: os.class, Reg: text, Operand: idx, SameAs: -1,
				})
			}
		case opMem:
			if err := m.classifyMem(shape, text, idx, i.Line); err != nil {
				return nil, err
			}
		case opImm:
			if !strings.HasPrefix(text, "#") {
				return nil, fmt.Errorf("line %d: %s operand %d: expected immediate, got %q",
					i.Line, mnemonic, idx, text)
			}
			shape.Slots = append(shape.Slots, Slot{Role: Imm, Operand: idx, SameAs: -1})
		case opSym:
			shape.Slots = append(shape.Slots, Slot{Role: Sym, Operand: idx, SameAs: -1})
		}
	}

	if sp.inPlace[0] >= 0 {
		shape.Slots[sp.inPlace[0]].SameAs = sp.inPlace[1]
	}

	// implicit flag operands; Operand -1 means the slot has no textual home
	switch mnemonic {
	case "cmp", "subs":
		shape.Slots = append(shape.Slots, Slot{Role: Write, Class: Flags, Reg: "nzcv", Operand: -1, Pin: "nzcv", SameAs: -1})
	case "bne":
		shape.Slots = append(shape.Slots, Slot{Role: Read, Class: Flags, Reg: "nzcv", Operand: -1, Pin: "nzcv", SameAs: -1})
	}
	return shape, nil
}

// classifyMem parses a memory operand: "[base]", "[base, #imm]",
// "[base, roff]" or post-indexed "[base], #imm" (writeback).
func (m *Armv81M) classifyMem(shape *Shape, text string, idx, line int) error {
	if !strings.HasPrefix(text, "[") {
		return fmt.Errorf("line %d: operand %d: expected memory operand, got %q", line, idx, text)
	}
	close := strings.Index(text, "]")
	if close < 0 {
		return fmt.Errorf("line %d: operand %d: unterminated memory operand %q", line, idx, text)
	}
	inner := strings.TrimSpace(text[1:close])
	tail := strings.TrimSpace(text[close+1:])

	writeback := false
	var offset string
	if tail != "" {
		// post-indexed: "[base], #imm"
		if !strings.HasPrefix(tail, ",") {
			return fmt.Errorf("line %d: operand %d: malformed memory operand %q", line, idx, text)
		}
		writeback = true
		offset = strings.TrimSpace(tail[1:])
	}

	parts := strings.Split(inner, ",")
	base := strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		offset = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		return fmt.Errorf("line %d: operand %d: malformed memory operand %q", line, idx, text)
	}

	role := AddrBase
	if writeback {
		role = AddrBaseWB
	}
	shape.Slots = append(shape.Slots, Slot{Role: role, Class: GPR, Reg: base, Operand: idx, SameAs: -1})
	shape.AddrBase = base
	shape.Writeback = writeback

	if offset != "" && !strings.HasPrefix(offset, "#") {
		// register offset
		shape.Slots = append(shape.Slots, Slot{Role: AddrOffset, Class: GPR, Reg: offset, Operand: idx, SameAs: -1})
	} else if offset != "" && !writeback {
		shape.AddrOffset = strings.TrimPrefix(offset, "#")
	}
	return nil
}

// baseMnemonic strips a size/type suffix like ".u32" or ".s16"
func baseMnemonic(m string) string {
	if i := strings.Index(m, "."); i > 0 {
		return m[:i]
	}
	return m
}
