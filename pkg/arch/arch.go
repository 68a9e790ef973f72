// Package arch defines the architecture model: the table mapping
// instruction mnemonics to operand roles, register classes and pinning
// rules. The optimization engine is target-independent; adding a new
// target means providing a new Model with no engine changes.
package arch

import (
	"fmt"

	"github.com/slothy-optimizer/slothy-go/pkg/asm"
)

// RegClass is the register class required by an operand slot
type RegClass int

const (
	GPR RegClass = iota
	Vector
	Predicate
	Flags
)

func (c RegClass) String() string {
	switch c {
	case GPR:
		return "gpr"
	case Vector:
		return "vector"
	case Predicate:
		return "predicate"
	case Flags:
		return "flags"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass parses a register class name as used in typing hints
func ParseClass(s string) (RegClass, error) {
	switch s {
	case "gpr":
		return GPR, nil
	case "vector":
		return Vector, nil
	case "predicate":
		return Predicate, nil
	case "flags":
		return Flags, nil
	}
	return 0, fmt.Errorf("unknown register class %q", s)
}

// Role describes how an operand slot accesses its register
type Role int

const (
	Read Role = iota
	Write
	ReadWrite
	AddrBase   // base register of a memory operand
	AddrBaseWB // base register with writeback (read and written)
	AddrOffset // register offset of a memory operand
	Imm        // immediate, no register
	Sym        // label or symbol, no register
)

// Reads reports whether the slot reads its register
func (r Role) Reads() bool {
	switch r {
	case Read, ReadWrite, AddrBase, AddrBaseWB, AddrOffset:
		return true
	}
	return false
}

// Writes reports whether the slot writes its register
func (r Role) Writes() bool {
	switch r {
	case Write, ReadWrite, AddrBaseWB:
		return true
	}
	return false
}

// IsAddress reports whether the slot is part of an address computation.
// Address slots contribute scheduling edges but behave like plain register
// reads for renaming.
func (r Role) IsAddress() bool {
	return r == AddrBase || r == AddrBaseWB || r == AddrOffset
}

// Slot is one register occurrence in a classified instruction
type Slot struct {
	Role    Role
	Class   RegClass
	Reg     string // register token as written in the source; "" for Imm/Sym
	Operand int    // index of the operand the slot appears in
	Pin     string // architectural register forced by the ISA, "" if free
	SameAs  int    // slot index that must receive the same register, -1 if none
}

// Shape is the result of classifying an instruction against the model
type Shape struct {
	Mnemonic string
	Slots    []Slot
	IsLoad   bool
	IsStore  bool
	// Address expression for alias analysis (loads/stores only)
	AddrBase   string
	AddrOffset string // constant offset text, "" if none or non-constant
	Writeback  bool
}

// ReadSlots returns the indices of slots that read a register
func (s *Shape) ReadSlots() []int {
	var out []int
	for i, sl := range s.Slots {
		if sl.Reg != "" && sl.Role.Reads() {
			out = append(out, i)
		}
	}
	return out
}

// WriteSlots returns the indices of slots that write a register
func (s *Shape) WriteSlots() []int {
	var out []int
	for i, sl := range s.Slots {
		if sl.Reg != "" && sl.Role.Writes() {
			out = append(out, i)
		}
	}
	return out
}

// Model is the architecture plug-in interface
type Model interface {
	// Name identifies the target
	Name() string
	// Classify matches an instruction against the table, resolving operand
	// roles, classes and pins. Fails on unknown mnemonics and malformed
	// operands.
	Classify(i *asm.Instruction) (*Shape, error)
	// Registers lists the allocatable architectural registers of a class,
	// in preference order
	Registers(c RegClass) []string
	// ClassOf resolves an architectural register name to its class; the
	// second result is false for symbolic names
	ClassOf(name string) (RegClass, bool)
	// Canonical maps register aliases ("lr", "sp") to the name used in
	// Registers; other names pass through unchanged
	Canonical(name string) string
}
