// Package driver orchestrates the per-procedure pipeline: skip
// host-library procedures, build effects and the initial C_GEN, run
// Modification (and its single-block cleanup), rebuild C_GEN, run
// Elimination, then Loop-Check Propagation. Each stage is
// independently toggleable, default all-on.
package driver

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/cfg"
	"github.com/dshills/boundcheck/internal/cgen"
	"github.com/dshills/boundcheck/internal/checkabi"
	"github.com/dshills/boundcheck/internal/cleanup"
	"github.com/dshills/boundcheck/internal/collab"
	"github.com/dshills/boundcheck/internal/effect"
	"github.com/dshills/boundcheck/internal/elimination"
	"github.com/dshills/boundcheck/internal/loopprop"
	"github.com/dshills/boundcheck/internal/modification"
	"github.com/dshills/boundcheck/internal/stats"
)

// Config is the programmatic mirror of the environment-variable
// configuration, for embedding the pass in a larger pipeline without
// going through the process environment.
type Config struct {
	Modification                bool
	Elimination                 bool
	LoopPropagation             bool
	CleanRedundantCheckInSameBB bool
	DumpStats                   bool
	Verbose                     bool
	DumpDst                     string
	// Parallel runs each procedure's pipeline concurrently via
	// golang.org/x/sync/errgroup; safe because no analysis state is
	// shared between procedures.
	Parallel bool
}

// FromEnv reads the configuration from the process environment, with
// all optimization stages enabled by default.
func FromEnv() Config {
	return Config{
		Modification:                envBool("MODIFICATION", true),
		Elimination:                 envBool("ELIMINATION", true),
		LoopPropagation:             envBool("LOOP_PROPAGATION", true),
		CleanRedundantCheckInSameBB: envBool("CLEAN_REDUNDANT_CHECK_IN_SAME_BB", envBool("ELIMINATION", true)),
		DumpStats:                   envBool("DUMP_STATS", true),
		Verbose:                     envBool("VERBOSE", false),
		DumpDst:                     os.Getenv("DUMP_DST"),
	}
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch v {
	case "0", "false", "FALSE", "off", "":
		return false
	default:
		return true
	}
}

// ProcedureAbort is the dedicated error type for an assertion-grade
// programmer-error failure: it aborts only the one procedure's
// transformation, never the whole module, and is never wrapped further
// by callers up the stack.
type ProcedureAbort struct {
	Procedure string
	Operation string
	Cause     interface{}
}

func (e *ProcedureAbort) Error() string {
	return fmt.Sprintf("boundcheck: aborted procedure %q during %s: %v", e.Procedure, e.Operation, e.Cause)
}

// Driver runs the optimization pipeline over a module.
type Driver struct {
	Config Config
	Stats  *stats.Collector
}

// New returns a Driver configured per cfg, with a fresh stats
// collector.
func New(cfg Config) *Driver {
	return &Driver{Config: cfg, Stats: stats.NewCollector()}
}

// Run applies the pipeline to every procedure in m that is not a
// recognized host-library function and has at least one block (an
// external declaration has nothing for the core to transform).
// Recoverable ProcedureAbort failures are collected and returned
// together via errors.Join-style aggregation; they never prevent other
// procedures from being processed.
func (d *Driver) Run(m *ir.Module) error {
	checkLB := checkabi.Declare(m, checkabi.LowerBoundFunc)
	checkUB := checkabi.Declare(m, checkabi.UpperBoundFunc)

	var targets []*ir.Func
	for _, fn := range m.Funcs {
		if len(fn.Blocks) == 0 || collab.IsHostLibraryFunc(fn) {
			continue
		}
		targets = append(targets, fn)
	}

	if d.Config.Parallel {
		return d.runParallel(targets, checkLB, checkUB)
	}
	return d.runSequential(targets, checkLB, checkUB)
}

func (d *Driver) runSequential(targets []*ir.Func, checkLB, checkUB *ir.Func) error {
	var aborts []error
	for _, fn := range targets {
		if err := d.runProcedure(fn, checkLB, checkUB); err != nil {
			aborts = append(aborts, err)
		}
	}
	return joinAborts(aborts)
}

func (d *Driver) runParallel(targets []*ir.Func, checkLB, checkUB *ir.Func) error {
	var g errgroup.Group
	errs := make([]error, len(targets))
	for i, fn := range targets {
		i, fn := i, fn
		g.Go(func() error {
			errs[i] = d.runProcedure(fn, checkLB, checkUB)
			return nil
		})
	}
	_ = g.Wait()
	var aborts []error
	for _, e := range errs {
		if e != nil {
			aborts = append(aborts, e)
		}
	}
	return joinAborts(aborts)
}

func joinAborts(aborts []error) error {
	if len(aborts) == 0 {
		return nil
	}
	msgs := make([]string, len(aborts))
	for i, e := range aborts {
		msgs[i] = e.Error()
	}
	return errors.Errorf("boundcheck: %d procedure(s) aborted: %v", len(aborts), msgs)
}

// runProcedure executes the per-procedure step order, recovering an
// assertion-grade panic into a ProcedureAbort so one
// procedure's programmer-error failure never takes down the module.
func (d *Driver) runProcedure(fn *ir.Func, checkLB, checkUB *ir.Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProcedureAbort{Procedure: fn.GlobalName, Operation: "pipeline", Cause: r}
		}
	}()

	d.trace("=== %s ===", fn.GlobalName)
	if d.Config.DumpStats {
		d.Stats.Record(fn, stats.Initial)
	}

	g := cfg.Build(fn)
	m := cgen.Build(fn)
	eff := effect.Summarize(fn, m.Vars)

	if d.Config.Modification {
		d.trace("modification: %s", fn.GlobalName)
		for _, v := range m.Vars {
			res := modification.Run(g, m.For(v), eff, v)
			modification.Apply(m, v, res.Out, checkLB, checkUB, fileLineOf(m), availableAt(g))
		}
		if d.Config.DumpStats {
			d.Stats.Record(fn, stats.PostModification)
		}
	}

	if d.Config.CleanRedundantCheckInSameBB {
		cleanup.Run(fn)
		if d.Config.DumpStats {
			d.Stats.Record(fn, stats.PostCleanup)
		}
	}

	m = cgen.Build(fn)

	if d.Config.Elimination {
		d.trace("elimination: %s", fn.GlobalName)
		for _, v := range m.Vars {
			res := elimination.Run(g, m.For(v), eff, v)
			elimination.Apply(fn, m, v, res.In)
		}
		if d.Config.DumpStats {
			d.Stats.Record(fn, stats.PostElimination)
		}
	}

	if d.Config.LoopPropagation {
		d.trace("loop-propagation: %s", fn.GlobalName)
		m = cgen.Build(fn)
		for _, l := range g.NaturalLoops() {
			loopprop.RunLoop(g, l, eff, m.CallsByBlock, checkLB, checkUB)
		}
		if d.Config.DumpStats {
			d.Stats.Record(fn, stats.PostLoopPropagation)
		}
	}

	return nil
}

// fileLineOf builds a modification.FileLine that preserves the nearest
// original check's file argument for newly synthesized checks in the
// same block, falling back to a zero line since this repository tracks
// no debug-location metadata of its own.
func fileLineOf(m *cgen.Maps) modification.FileLine {
	return func(at *ir.Block) (value.Value, value.Value) {
		if calls := m.CallsIn(at); len(calls) > 0 {
			return calls[0].File, checkabi.ConstBound(0)
		}
		if len(m.Calls) > 0 {
			return m.Calls[0].File, checkabi.ConstBound(0)
		}
		return checkabi.ConstBound(0), checkabi.ConstBound(0)
	}
}

// availableAt builds a modification.Availability backed by g's
// dominator sets: an instruction value (allocas included) is available
// at `at` exactly when the block that defines it dominates `at`; any
// other value kind (parameter, global, constant), and any instruction
// not found in a block, is always available.
func availableAt(g *cfg.Graph) modification.Availability {
	return func(v value.Value, at *ir.Block) bool {
		inst, ok := v.(ir.Instruction)
		if !ok {
			return true
		}
		for _, b := range g.Blocks() {
			for _, x := range b.Insts {
				if x == inst {
					return g.Dominates(b, at)
				}
			}
		}
		return true
	}
}

func (d *Driver) trace(format string, args ...interface{}) {
	if !d.Config.Verbose {
		return
	}
	c := color.New(color.FgCyan)
	c.Fprintf(os.Stderr, format+"\n", args...)
}

// FlushStats writes the accumulated CSV statistics to the configured
// DumpDst path, appending if the file already exists.
func (d *Driver) FlushStats() error {
	if !d.Config.DumpStats || d.Config.DumpDst == "" {
		return nil
	}
	f, err := os.OpenFile(d.Config.DumpDst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "boundcheck: opening stats destination %q", d.Config.DumpDst)
	}
	defer f.Close()
	if err := d.Stats.WriteCSV(f); err != nil {
		return errors.Wrap(err, "boundcheck: writing stats CSV")
	}
	return nil
}
