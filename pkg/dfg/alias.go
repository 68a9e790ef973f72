package dfg

// MemRef is the address expression of a load or store, as far as the
// engine understands it: a base register plus an optional constant offset.
type MemRef struct {
	Base      string
	Offset    string // constant offset text, "" if none
	Writeback bool
}

// AliasPolicy decides whether two memory references may refer to the same
// location. Returning true is always safe.
type AliasPolicy func(a, b MemRef) bool

// ConservativeAlias treats every pair of memory accesses as aliasing
func ConservativeAlias(a, b MemRef) bool { return true }

// BaseOffsetAlias proves two accesses disjoint when they use the same base
// register without writeback and distinct constant offsets. Everything
// else may alias.
func BaseOffsetAlias(a, b MemRef) bool {
	if a.Writeback || b.Writeback {
		return true
	}
	if a.Base != b.Base {
		return true // unrelated pointers may still overlap
	}
	if a.Offset == "" || b.Offset == "" {
		return true
	}
	return a.Offset == b.Offset
}

// PolicyByName resolves a config alias-policy key
func PolicyByName(name string) (AliasPolicy, bool) {
	switch name {
	case "conservative", "":
		return ConservativeAlias, true
	case "base_offset":
		return BaseOffsetAlias, true
	}
	return nil, false
}
