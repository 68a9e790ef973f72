package uarch

// CortexM55 returns a single-issue Cortex-M55-style timing table for the
// Armv8.1-M model. Values follow the published MVE pipeline behaviour:
// vector loads and multiply-accumulates have a one-cycle-visible result
// latency of 2, vector stores retire in 1.
func CortexM55() *Model {
	return &Model{
		Name:       "cortex-m55",
		IssueWidth: 1,
		UnitCapacity: map[string]int{
			"scalar": 1,
			"ls":     1, // load/store pipe
			"mve":    1, // vector pipe
		},
		Instr: map[string]Desc{
			"vldrw": {Latency: 2, Units: [][]string{{"ls"}}},
			"vldrh": {Latency: 2, Units: [][]string{{"ls"}}},
			"vldrb": {Latency: 2, Units: [][]string{{"ls"}}},
			"vstrw": {Latency: 1, Units: [][]string{{"ls"}}},
			"vstrh": {Latency: 1, Units: [][]string{{"ls"}}},
			"vstrb": {Latency: 1, Units: [][]string{{"ls"}}},

			"vmla":     {Latency: 2, Units: [][]string{{"mve"}}},
			"vfma":     {Latency: 2, Units: [][]string{{"mve"}}},
			"vmul":     {Latency: 2, Units: [][]string{{"mve"}}},
			"vqdmulh":  {Latency: 2, Units: [][]string{{"mve"}}},
			"vqrdmulh": {Latency: 2, Units: [][]string{{"mve"}}},
			"vadd":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vsub":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vand":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vorr":     {Latency: 1, Units: [][]string{{"mve"}}},
			"veor":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vshr":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vshl":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vmov":     {Latency: 1, Units: [][]string{{"mve"}}},
			"vdup":     {Latency: 1, Units: [][]string{{"mve"}}},

			"ldr": {Latency: 2, Units: [][]string{{"ls"}}},
			"str": {Latency: 1, Units: [][]string{{"ls"}}},

			"mul": {Latency: 2, Units: [][]string{{"scalar"}}},
			"mla": {Latency: 2, Units: [][]string{{"scalar"}}},
		},
		Default: Desc{Latency: 1, Units: [][]string{{"scalar"}}},
	}
}

// Ideal returns a degenerate model with zero latency and effectively
// unbounded issue width. Under it any input order is already optimal.
func Ideal() *Model {
	return &Model{
		Name:         "ideal",
		IssueWidth:   1 << 20,
		UnitCapacity: map[string]int{"any": 1 << 20},
		Instr:        map[string]Desc{},
		Default:      Desc{Latency: 0, Units: nil},
	}
}

// ByName looks up a built-in microarchitecture table
func ByName(name string) (*Model, bool) {
	switch name {
	case "cortex-m55", "m55", "":
		return CortexM55(), true
	case "ideal":
		return Ideal(), true
	}
	return nil, false
}
