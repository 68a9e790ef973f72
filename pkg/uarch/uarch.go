// Package uarch defines the microarchitecture model: per-mnemonic latency,
// functional-unit usage and issue width. Like the architecture model it is
// a plain table the engine consumes; swapping in a different core is a
// matter of providing a new table.
package uarch

import "fmt"

// Desc gives the timing behaviour of one mnemonic
type Desc struct {
	// Latency is the number of cycles before a consumer may issue
	Latency int
	// Units lists alternative functional-unit assignments. Each inner
	// slice is one alternative: the set of units consumed together for a
	// cycle. An instruction picks exactly one alternative.
	Units [][]string
}

// Override is a pairwise forwarding exception: the latency between a
// specific producer/consumer mnemonic pair differs from the producer's
// table latency.
type Override struct {
	Producer string
	Consumer string
	Latency  int
}

// Model is a microarchitecture table
type Model struct {
	Name         string
	IssueWidth   int
	UnitCapacity map[string]int
	Instr        map[string]Desc
	Forwarding   []Override
	// Default applies to mnemonics absent from Instr
	Default Desc
}

// Latency returns the issue-to-consume latency between two mnemonics,
// honouring forwarding overrides
func (m *Model) Latency(producer, consumer string) int {
	for _, o := range m.Forwarding {
		if o.Producer == producer && o.Consumer == consumer {
			return o.Latency
		}
	}
	return m.desc(producer).Latency
}

// Units returns the functional-unit alternatives for a mnemonic
func (m *Model) Units(mnemonic string) [][]string {
	return m.desc(mnemonic).Units
}

// Capacity returns how many instructions may occupy a unit per cycle
func (m *Model) Capacity(unit string) int {
	if c, ok := m.UnitCapacity[unit]; ok {
		return c
	}
	return 1
}

func (m *Model) desc(mnemonic string) Desc {
	if d, ok := m.Instr[mnemonic]; ok {
		return d
	}
	return m.Default
}

// Validate checks the table for internal consistency
func (m *Model) Validate() error {
	if m.IssueWidth < 1 {
		return fmt.Errorf("issue width must be >= 1, got %d", m.IssueWidth)
	}
	for mn, d := range m.Instr {
		if d.Latency < 0 {
			return fmt.Errorf("%s: negative latency %d", mn, d.Latency)
		}
		for _, alt := range d.Units {
			for _, u := range alt {
				if _, ok := m.UnitCapacity[u]; !ok {
					return fmt.Errorf("%s: unknown functional unit %q", mn, u)
				}
			}
		}
	}
	for _, o := range m.Forwarding {
		if o.Latency < 0 {
			return fmt.Errorf("forwarding %s->%s: negative latency", o.Producer, o.Consumer)
		}
	}
	return nil
}
