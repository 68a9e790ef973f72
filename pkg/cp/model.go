// Package cp provides the constraint model the encoder emits and the
// solver interface the search driver calls. The model is a plain
// finite-domain CSP: integer variables with inclusive bounds, linear
// inequalities, all-different, per-value capacity and conditional interval
// disjointness. A small backtracking solver ships as the default Solver;
// anything able to answer SAT/UNSAT with an assignment can replace it.
package cp

import (
	"fmt"
	"io"
	"strings"
)

// IntVar is an integer decision variable with inclusive bounds
type IntVar struct {
	ID   int
	Name string
	Lo   int
	Hi   int
}

// IsBool reports whether the variable is 0/1
func (v *IntVar) IsBool() bool { return v.Lo >= 0 && v.Hi <= 1 }

// Term is one addend of a linear expression
type Term struct {
	Coef int
	Var  *IntVar
}

// Constraint is the interface implemented by all constraint kinds
type Constraint interface {
	describe() string
}

// LinearLE requires sum(Coef_i * Var_i) <= Bound
type LinearLE struct {
	Terms []Term
	Bound int
}

// LinearEQ requires sum(Coef_i * Var_i) == Bound
type LinearEQ struct {
	Terms []Term
	Bound int
}

// AllDifferent requires pairwise distinct values
type AllDifferent struct {
	Vars []*IntVar
}

// CountPerValueLE bounds how many of Vars may take any single value. When
// Active is non-nil it has the same length as Vars and only entries whose
// boolean is 1 count. This encodes issue width (Active nil) and per-cycle
// functional-unit capacity (Active = unit-choice booleans).
type CountPerValueLE struct {
	Vars   []*IntVar
	Active []*IntVar
	Cap    int
}

// DisjointIfEqual requires the intervals [AStart, AEnd] and [BStart, BEnd]
// to be disjoint whenever RegA == RegB. This is the register-lifetime
// constraint: two live ranges mapped to the same register must not overlap.
type DisjointIfEqual struct {
	RegA, RegB   *IntVar
	AStart, AEnd *IntVar
	BStart, BEnd *IntVar
}

func (c *LinearLE) describe() string {
	return fmt.Sprintf("%s <= %d", formatTerms(c.Terms), c.Bound)
}

func (c *LinearEQ) describe() string {
	return fmt.Sprintf("%s == %d", formatTerms(c.Terms), c.Bound)
}

func (c *AllDifferent) describe() string {
	return fmt.Sprintf("alldifferent(%s)", formatVars(c.Vars))
}

func (c *CountPerValueLE) describe() string {
	if c.Active != nil {
		return fmt.Sprintf("count_per_value(%s | %s) <= %d", formatVars(c.Vars), formatVars(c.Active), c.Cap)
	}
	return fmt.Sprintf("count_per_value(%s) <= %d", formatVars(c.Vars), c.Cap)
}

func (c *DisjointIfEqual) describe() string {
	return fmt.Sprintf("%s == %s -> [%s,%s] disjoint [%s,%s]",
		c.RegA.Name, c.RegB.Name, c.AStart.Name, c.AEnd.Name, c.BStart.Name, c.BEnd.Name)
}

// Model is one CP instance. Models are built fresh for every solver
// invocation and discarded afterwards.
type Model struct {
	Vars        []*IntVar
	Constraints []Constraint
	// Objective is minimized when non-nil; otherwise any satisfying
	// assignment is accepted
	Objective *IntVar
}

// NewModel creates an empty model
func NewModel() *Model {
	return &Model{}
}

// IntVar adds an integer variable with inclusive bounds
func (m *Model) IntVar(name string, lo, hi int) *IntVar {
	v := &IntVar{ID: len(m.Vars), Name: name, Lo: lo, Hi: hi}
	m.Vars = append(m.Vars, v)
	return v
}

// BoolVar adds a 0/1 variable
func (m *Model) BoolVar(name string) *IntVar {
	return m.IntVar(name, 0, 1)
}

// Const adds a fixed variable
func (m *Model) Const(name string, value int) *IntVar {
	return m.IntVar(name, value, value)
}

// Add appends a constraint
func (m *Model) Add(c Constraint) {
	m.Constraints = append(m.Constraints, c)
}

// AddPrecedence adds y >= x + gap
func (m *Model) AddPrecedence(x, y *IntVar, gap int) {
	m.Add(&LinearLE{Terms: []Term{{1, x}, {-1, y}}, Bound: -gap})
}

// Minimize sets the objective variable
func (m *Model) Minimize(v *IntVar) {
	m.Objective = v
}

// Solution is a satisfying assignment
type Solution struct {
	values    []int
	Objective int // value of the objective variable, 0 if none
}

// Value returns the assigned value of a variable
func (s *Solution) Value(v *IntVar) int {
	return s.values[v.ID]
}

// Dump writes the model in a human-readable textual form
func (m *Model) Dump(w io.Writer) {
	fmt.Fprintf(w, "vars: %d  constraints: %d\n", len(m.Vars), len(m.Constraints))
	for _, v := range m.Vars {
		fmt.Fprintf(w, "var %s in [%d, %d]\n", v.Name, v.Lo, v.Hi)
	}
	for _, c := range m.Constraints {
		fmt.Fprintf(w, "%s\n", c.describe())
	}
	if m.Objective != nil {
		fmt.Fprintf(w, "minimize %s\n", m.Objective.Name)
	}
}

func formatTerms(terms []Term) string {
	var b strings.Builder
	for i, t := range terms {
		switch {
		case i == 0 && t.Coef == 1:
			b.WriteString(t.Var.Name)
		case i == 0:
			fmt.Fprintf(&b, "%d*%s", t.Coef, t.Var.Name)
		case t.Coef == 1:
			fmt.Fprintf(&b, " + %s", t.Var.Name)
		case t.Coef == -1:
			fmt.Fprintf(&b, " - %s", t.Var.Name)
		case t.Coef < 0:
			fmt.Fprintf(&b, " - %d*%s", -t.Coef, t.Var.Name)
		default:
			fmt.Fprintf(&b, " + %d*%s", t.Coef, t.Var.Name)
		}
	}
	return b.String()
}

func formatVars(vars []*IntVar) string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return strings.Join(names, ", ")
}
