package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
	"github.com/slothy-optimizer/slothy-go/pkg/config"
	"github.com/slothy-optimizer/slothy-go/pkg/cp"
	"github.com/slothy-optimizer/slothy-go/pkg/dfg"
	"github.com/slothy-optimizer/slothy-go/pkg/modelgen"
	"github.com/slothy-optimizer/slothy-go/pkg/pipeline"
	"github.com/slothy-optimizer/slothy-go/pkg/selfcheck"
	"github.com/slothy-optimizer/slothy-go/pkg/uarch"
)

// ErrInfeasible is returned when no schedule exists within the stalls cap
var ErrInfeasible = errors.New("no schedule within the stalls cap")

// ErrSolver is returned when the search exhausts its budgets without a
// solution and at least one attempt failed for a reason other than
// infeasibility (timeout, solver crash)
var ErrSolver = errors.New("solver failure")

// ErrSelfCheck is returned when the output fails verification; the result
// is rejected
var ErrSelfCheck = errors.New("self-check failed")

// Optimizer runs optimize calls against fixed models and configuration
type Optimizer struct {
	Arch   arch.Model
	Uarch  *uarch.Model
	Solver cp.Solver
	Config *config.Config
	// Log receives "slothy:"-prefixed progress lines; nil silences it
	Log io.Writer
	// DumpPrefix enables per-pass CP model dumps to
	// "<prefix>.pass<N>.cpmodel" when non-empty
	DumpPrefix string

	passCount int
}

func (o *Optimizer) logf(format string, args ...interface{}) {
	if o.Log != nil {
		fmt.Fprintf(o.Log, "slothy: "+format+"\n", args...)
	}
}

// Optimize schedules and renames a straight-line block
func (o *Optimizer) Optimize(ctx context.Context, body []*asm.Instruction) (*Result, error) {
	return o.run(ctx, body, false)
}

// OptimizeLoop optimizes a loop body with software pipelining. The body
// is unrolled per configuration before the pipelining model is built.
func (o *Optimizer) OptimizeLoop(ctx context.Context, body []*asm.Instruction) (*Result, error) {
	unrolled := pipeline.Unroll(body, o.Config.SwPipelining.Unroll, o.Arch)
	return o.run(ctx, unrolled, o.Config.SwPipelining.Enabled)
}

func (o *Optimizer) run(ctx context.Context, body []*asm.Instruction, loop bool) (*Result, error) {
	if len(body) == 0 {
		return &Result{SlotRenames: map[SlotRef]string{}, InputRenames: map[string]string{}}, nil
	}

	g, err := dfg.Build(body, o.Arch, dfg.Config{
		Inputs:           o.Config.Inputs,
		Outputs:          o.Config.Outputs,
		Hints:            o.Config.Hints(),
		Alias:            o.Config.AliasPolicy(),
		AllowLoadReorder: o.Config.Constraints.AllowReorderingOfLoads,
		Loop:             loop,
	})
	if err != nil {
		return nil, err
	}

	// grow the stalls budget until SAT or the cap is exhausted
	initial := o.Config.Constraints.Stalls.Initial
	stallsCap := o.Config.Constraints.Stalls.Cap
	var best *Result
	solverFailed := false
	for b := initial; ; {
		o.logf("attempting stalls budget %d", b)
		res, err := o.attempt(ctx, g, b, loop)
		switch {
		case err == nil:
			best = res
		case errors.Is(err, cp.ErrUnsat):
			o.logf("budget %d infeasible", b)
		case errors.Is(err, ErrSolver):
			if ctx.Err() != nil {
				// the caller cancelled; no partial result
				return nil, ctx.Err()
			}
			solverFailed = true
			o.logf("solver gave up at budget %d: %v", b, err)
		default:
			return nil, err
		}
		if best != nil {
			break
		}
		if b >= stallsCap {
			break
		}
		if b == 0 {
			b = 1
		} else {
			b *= 2
		}
		if b > stallsCap {
			b = stallsCap
		}
	}
	if best == nil {
		if solverFailed {
			return nil, fmt.Errorf("%w: search exhausted without a solution", ErrSolver)
		}
		return nil, fmt.Errorf("%w (cap %d)", ErrInfeasible, stallsCap)
	}
	o.logf("solution found at stalls budget %d", best.Stalls)

	// tighten: accept the lowest budget that still solves
	for t := best.Stalls - 1; t >= 0; t-- {
		res, err := o.attempt(ctx, g, t, loop)
		if err != nil {
			break
		}
		o.logf("tightened to stalls budget %d", t)
		best = res
	}

	if o.Config.SelfCheck {
		if err := o.verify(body, best); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSelfCheck, err)
		}
		o.logf("self-check ok")
	}
	return best, nil
}

// attempt encodes and solves one pass at a fixed stalls budget
func (o *Optimizer) attempt(ctx context.Context, g *dfg.Graph, stalls int, loop bool) (*Result, error) {
	enc, err := modelgen.Encode(g, o.Arch, o.Uarch, modelgen.Options{
		Stalls:        stalls,
		Loop:          loop,
		MinimizeEarly: loop && o.Config.SwPipelining.MinimizeOverlapping,
	})
	if err != nil {
		return nil, err
	}

	if o.DumpPrefix != "" {
		o.dumpModel(enc)
	}
	o.passCount++

	solveCtx := ctx
	if o.Config.SolverTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, time.Duration(o.Config.SolverTimeoutSeconds)*time.Second)
		defer cancel()
	}
	sol, err := o.Solver.Solve(solveCtx, enc.Model)
	if err != nil {
		if errors.Is(err, cp.ErrUnsat) {
			return nil, err
		}
		// timeouts and crashes alike: the attempt failed, not the input
		return nil, fmt.Errorf("%w: %v", ErrSolver, err)
	}

	res := decode(g, enc, sol, loop)
	res.Stalls = stalls
	return res, nil
}

// dumpModel writes the pass model to a unique per-pass path
func (o *Optimizer) dumpModel(enc *modelgen.Encoding) {
	path := fmt.Sprintf("%s.pass%03d.cpmodel", o.DumpPrefix, o.passCount)
	f, err := os.Create(path)
	if err != nil {
		o.logf("cannot write model dump %s: %v", path, err)
		return
	}
	defer f.Close()
	enc.Model.Dump(f)
	o.logf("model dumped to %s", path)
}

// verify runs the independent output check
func (o *Optimizer) verify(input []*asm.Instruction, res *Result) error {
	renames := func(node, slot int) (string, bool) {
		r, ok := res.SlotRenames[SlotRef{Node: node, Slot: slot}]
		return r, ok
	}
	return selfcheck.Verify(input, res.Lines, res.Permutation, o.Arch, selfcheck.Options{
		Loop:             res.Loop,
		Early:            res.Early,
		Preamble:         res.Preamble,
		Postamble:        res.Postamble,
		Renames:          renames,
		Alias:            o.Config.AliasPolicy(),
		AllowLoadReorder: o.Config.Constraints.AllowReorderingOfLoads,
		Hints:            o.Config.Hints(),
	})
}
