// SPDX-License-Identifier: Apache-2.0

// iropt is the textual-fixture driver for the middle-end passes: it parses
// a .ir assembly file (package irtext), runs the requested passes over
// every method it describes, and prints the before/after dumps. There is
// no bytecode front end in this module (spec §1 places that out of
// scope) — iropt and its .ir fixtures are how the passes get exercised
// outside of Go unit tests, the same role cmd/kanso-cli played for the
// AST/parser front end it superseded.
package main

import (
	"fmt"
	"sort"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"iropt/internal/analysis"
	"iropt/internal/bridges"
	"iropt/internal/config"
	"iropt/internal/errors"
	"iropt/internal/events"
	"iropt/internal/ir"
	"iropt/internal/irtext"
	"iropt/internal/passes/branchelim"
	"iropt/internal/passes/inlining"
	"iropt/internal/passes/lse"
	"iropt/internal/runtime"
)

type cli struct {
	Run  runCmd  `cmd:"" help:"Run optimization passes over every method in a .ir file."`
	Dump dumpCmd `cmd:"" help:"Parse a .ir file and print it back out unchanged."`
}

type runCmd struct {
	File    string   `arg:"" type:"existingfile" help:"Path to a .ir file."`
	Pass    []string `name:"pass" enum:"inlining,lse,branchelim" default:"inlining,branchelim,lse" help:"Passes to run, in order. Repeatable."`
	Config  string   `help:"Optional key=value options file, in internal/config's format."`
	Verbose bool     `help:"Log every pass decision at development level instead of discarding them."`
}

type dumpCmd struct {
	File string `arg:"" type:"existingfile" help:"Path to a .ir file."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("iropt"),
		kong.Description("Runs the middle-end optimizing passes over a textual IR fixture."),
		kong.BindTo(afero.NewOsFs(), (*afero.Fs)(nil)),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func parseFile(fs afero.Fs, path string) (*irtext.File, map[runtime.MethodRef]*ir.Graph, error) {
	source, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := irtext.ParseString(path, string(source))
	if err != nil {
		irtext.ReportParseError(string(source), err)
		return nil, nil, err
	}
	graphs, err := irtext.BuildFile(f)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", path, err)
	}
	return f, graphs, nil
}

// buildRuntime registers every parsed method's own descriptor as its own
// metadata, so a self-contained .ir file exercises Inlining's admissibility
// checks without a separately authored runtime config (SUPPLEMENTED
// FEATURE over the teacher's cmd/kanso-cli, which had no runtime oracle to
// stand up at all).
func buildRuntime(graphs map[runtime.MethodRef]*ir.Graph) *runtime.InMemory {
	rt := runtime.NewInMemory()
	for ref, g := range graphs {
		rt.RegisterMethod(ref, runtime.MethodInfo{
			CodeSize:       g.Method.CodeSize,
			ArgsCount:      g.Method.ArgsCount,
			RegistersCount: g.Method.RegsCount,
			Final:          g.Method.Final,
			External:       g.Method.External,
			CanBeInlined:   true,
		})
		rt.RegisterClass(ref.Class, g.Method.ClassFinal)
	}
	return rt
}

func (r *runCmd) Run(fs afero.Fs) error {
	_, graphs, err := parseFile(fs, r.File)
	if err != nil {
		return err
	}

	opts := config.Default()
	if r.Config != "" {
		opts, err = config.Load(fs, r.Config)
		if err != nil {
			return err
		}
	}

	log := zap.NewNop()
	if r.Verbose {
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
	}
	sink := events.NewZapSink(log)
	rt := buildRuntime(graphs)
	callees := inlining.StaticProvider(graphs)

	for _, ref := range sortedRefs(graphs) {
		g := graphs[ref]
		color.Cyan("== %s.%s (before) ==", ref.Class, ref.Method)
		fmt.Print(ir.Print(g))

		for _, pass := range r.Pass {
			changed, err := runPass(pass, g, rt, callees, opts, sink, log)
			if err != nil {
				return fmt.Errorf("%s.%s: pass %s: %w", ref.Class, ref.Method, pass, err)
			}
			if changed {
				color.Yellow("-- %s.%s (after %s) --", ref.Class, ref.Method, pass)
				fmt.Print(ir.Print(g))
			}
		}
	}
	color.Green("done: %d method(s) processed", len(graphs))
	return nil
}

// runPass runs one pass over g, recovering a *ir.ContractViolation panic
// (spec §7: "Contract violation (fatal in debug)") into a caret-style
// crash report via internal/errors rather than letting it surface as a
// raw Go panic and stack trace.
func runPass(pass string, g *ir.Graph, rt runtime.Interface, callees inlining.CalleeProvider, opts config.Options, sink events.Sink, log *zap.Logger) (changed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, ok := rec.(*ir.ContractViolation)
			if !ok {
				panic(rec)
			}
			err = fmt.Errorf("contract violation:\n%s", errors.NewReporter(g).Format(v))
		}
	}()

	dom := analysis.NewDominatorsTree(g)
	loops := analysis.NewLoopAnalyzer(g, dom)

	switch pass {
	case "inlining":
		return inlining.Run(g, dom, loops, rt, callees, opts, sink, log), nil
	case "branchelim":
		return branchelim.Run(g, dom, opts, log), nil
	case "lse":
		aa := analysis.NewConservative()
		br := bridges.New(g, dom)
		return lse.Run(g, dom, loops, aa, br, opts, log), nil
	default:
		return false, fmt.Errorf("unknown pass %q", pass)
	}
}

func (d *dumpCmd) Run(fs afero.Fs) error {
	_, graphs, err := parseFile(fs, d.File)
	if err != nil {
		return err
	}
	for _, ref := range sortedRefs(graphs) {
		fmt.Printf("// %s.%s\n", ref.Class, ref.Method)
		fmt.Print(ir.Print(graphs[ref]))
	}
	color.Green("parsed %d method(s) from %s", len(graphs), d.File)
	return nil
}

func sortedRefs(graphs map[runtime.MethodRef]*ir.Graph) []runtime.MethodRef {
	refs := make([]runtime.MethodRef, 0, len(graphs))
	for ref := range graphs {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Class != refs[j].Class {
			return refs[i].Class < refs[j].Class
		}
		return refs[i].Method < refs[j].Method
	})
	return refs
}
