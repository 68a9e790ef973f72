package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slothy-optimizer/slothy-go/pkg/arch"
	"github.com/slothy-optimizer/slothy-go/pkg/asm"
	"github.com/slothy-optimizer/slothy-go/pkg/config"
	"github.com/slothy-optimizer/slothy-go/pkg/cp"
	"github.com/slothy-optimizer/slothy-go/pkg/engine"
	"github.com/slothy-optimizer/slothy-go/pkg/parser"
	"github.com/slothy-optimizer/slothy-go/pkg/uarch"
)

var version = "0.1.0"

// Exit codes
const (
	exitOK         = 0
	exitInfeasible = 1
	exitInput      = 2
	exitSolver     = 3
	exitSelfCheck  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		return exitCode(err)
	}
	return exitOK
}

// exitCode classifies an error into the documented exit codes
func exitCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrInfeasible):
		return exitInfeasible
	case errors.Is(err, engine.ErrSolver):
		return exitSolver
	case errors.Is(err, engine.ErrSelfCheck):
		return exitSelfCheck
	default:
		return exitInput
	}
}

// cmdState carries the flag values of one command tree
type cmdState struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	uarchName  string
	outputPath string
	verbose    bool
	dumpModels bool

	startLabel string
	endLabel   string
	unroll     int
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	st := &cmdState{out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "slothy",
		Short: "slothy is an assembly-level superoptimizer",
		Long: `slothy rewrites hand-written assembly for a target
microarchitecture: it reorders instructions, renames their register
operands and, in loop mode, overlaps iterations (software pipelining),
while preserving the program's data flow exactly.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&st.configPath, "config", "c", "", "yaml configuration file")
	pf.StringVar(&st.uarchName, "uarch", "cortex-m55", "microarchitecture model (cortex-m55, ideal)")
	pf.StringVarP(&st.outputPath, "out", "o", "", "output file (default stdout)")
	pf.BoolVar(&st.verbose, "verbose", false, "log search progress")
	pf.BoolVar(&st.dumpModels, "dump-models", false, "write per-pass CP model dumps next to the input")

	optimizeCmd := &cobra.Command{
		Use:   "optimize [file]",
		Short: "Optimize a straight-line region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.doOptimize(args[0])
		},
	}
	optimizeCmd.Flags().StringVar(&st.startLabel, "start", "", "label opening the optimization window")
	optimizeCmd.Flags().StringVar(&st.endLabel, "end", "", "label closing the optimization window")

	optimizeLoopCmd := &cobra.Command{
		Use:   "optimize-loop [file] [label]",
		Short: "Optimize a loop with software pipelining",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.doOptimizeLoop(args[0], args[1])
		},
	}
	optimizeLoopCmd.Flags().IntVar(&st.unroll, "unroll", 0, "override sw_pipelining.unroll")

	rootCmd.AddCommand(optimizeCmd, optimizeLoopCmd)
	return rootCmd
}

// setup loads configuration and models shared by both commands
func (st *cmdState) setup(loopMode bool) (*config.Config, *engine.Optimizer, error) {
	cfg := config.Default()
	if st.configPath != "" {
		var err error
		cfg, err = config.Load(st.configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	if loopMode {
		cfg.SwPipelining.Enabled = true
		if st.unroll > 0 {
			cfg.SwPipelining.Unroll = st.unroll
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	um, ok := uarch.ByName(st.uarchName)
	if !ok {
		return nil, nil, fmt.Errorf("unknown microarchitecture %q", st.uarchName)
	}
	if err := um.Validate(); err != nil {
		return nil, nil, err
	}

	opt := &engine.Optimizer{
		Arch:   arch.NewArmv81M(),
		Uarch:  um,
		Solver: cp.NewBacktracker(),
		Config: cfg,
	}
	if st.verbose {
		opt.Log = st.errOut
	}
	return cfg, opt, nil
}

func (st *cmdState) doOptimize(filename string) error {
	prog, err := st.parseFile(filename)
	if err != nil {
		return err
	}
	region, err := parser.Extract(prog, st.startLabel, st.endLabel)
	if err != nil {
		return err
	}

	_, opt, err := st.setup(false)
	if err != nil {
		return err
	}
	if st.dumpModels {
		opt.DumpPrefix = filename
	}

	res, err := opt.Optimize(context.Background(), region.Body)
	if err != nil {
		return st.report(err)
	}

	var buf bytes.Buffer
	printer := asm.NewPrinter(&buf)
	for _, s := range region.Pre {
		printer.PrintStatement(s)
	}
	for _, line := range res.Lines {
		printer.PrintStatement(line)
	}
	for _, s := range region.Post {
		printer.PrintStatement(s)
	}
	return st.emit(buf.Bytes())
}

func (st *cmdState) doOptimizeLoop(filename, label string) error {
	prog, err := st.parseFile(filename)
	if err != nil {
		return err
	}
	loop, err := parser.ExtractLoop(prog, label)
	if err != nil {
		return err
	}

	_, opt, err := st.setup(true)
	if err != nil {
		return err
	}
	if st.dumpModels {
		opt.DumpPrefix = filename
	}

	res, err := opt.OptimizeLoop(context.Background(), loop.Body)
	if err != nil {
		return st.report(err)
	}

	var buf bytes.Buffer
	printer := asm.NewPrinter(&buf)
	// the loop label sits at the end of the pre section; the preamble
	// must run before it
	pre, labelStmt := loop.Pre[:len(loop.Pre)-1], loop.Pre[len(loop.Pre)-1]
	for _, s := range pre {
		printer.PrintStatement(s)
	}
	for _, line := range res.Preamble {
		printer.PrintStatement(line)
	}
	printer.PrintStatement(labelStmt)
	for _, line := range res.Lines {
		printer.PrintStatement(line)
	}
	printer.PrintStatement(loop.Branch)
	for _, line := range res.Postamble {
		printer.PrintStatement(line)
	}
	for _, s := range loop.Post {
		printer.PrintStatement(s)
	}
	if len(res.KernelInputs) > 0 || len(res.KernelOutputs) > 0 {
		fmt.Fprintf(st.errOut, "slothy: kernel inputs: %s\n", strings.Join(res.KernelInputs, ", "))
		fmt.Fprintf(st.errOut, "slothy: kernel outputs: %s\n", strings.Join(res.KernelOutputs, ", "))
	}
	return st.emit(buf.Bytes())
}

func (st *cmdState) parseFile(filename string) (*asm.Program, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	p := parser.New()
	prog := p.ParseProgram(string(data))
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(st.errOut, "slothy: %s: %s\n", filename, e)
		}
		return nil, fmt.Errorf("parsing failed with %d errors", len(errs))
	}
	return prog, nil
}

// report logs an engine error before passing it up for exit-code mapping
func (st *cmdState) report(err error) error {
	switch {
	case errors.Is(err, engine.ErrSelfCheck):
		fmt.Fprintf(st.errOut, "slothy: %v\n", err)
		fmt.Fprintf(st.errOut, "slothy: this is a bug in the optimizer, please report it\n")
	default:
		fmt.Fprintf(st.errOut, "slothy: %v\n", err)
	}
	return err
}

func (st *cmdState) emit(data []byte) error {
	if st.outputPath == "" {
		_, err := st.out.Write(data)
		return err
	}
	return os.WriteFile(st.outputPath, data, 0644)
}
