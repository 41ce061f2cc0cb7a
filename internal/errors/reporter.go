// Package errors renders a *ir.ContractViolation the way a crash at the
// top of a pass invocation should be shown to a human: a Rust-style
// "error[Exxxx]: message" header plus the offending instruction or block's
// line from the graph's own textual dump, with a caret under it. Retargeted
// from the teacher's AST Position/semantic error codes (internal/errors in
// the original front end) to the IR's own PC/contract-violation codes
// (ir.ContractViolation.Code, invariant I1-I6, see internal/ir/contract.go).
package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"iropt/internal/ir"
)

// Reporter formats contract violations raised while running passes over g,
// pointing at g's own dump (internal/ir.Print) rather than source text —
// the core has no bytecode front end to recover a source position from
// (spec §1 places that out of scope).
type Reporter struct {
	method string
	lines  []string
}

// NewReporter builds a Reporter for g, snapshotting its current dump.
// Build a fresh Reporter after any pass that mutates g if you want a
// violation's line number to reflect the post-mutation graph.
func NewReporter(g *ir.Graph) *Reporter {
	return &Reporter{
		method: fmt.Sprintf("%s.%s", g.Method.Class, g.Method.Name),
		lines:  strings.Split(ir.Print(g), "\n"),
	}
}

// Format renders v as a caret-style crash report, matching the shape of
// kanso/internal/errors.ErrorReporter.FormatError.
func (r *Reporter) Format(v *ir.ContractViolation) string {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s\n", red(fmt.Sprintf("error[%s]", v.Code)), v.Message))

	where, line, found := r.locate(v)
	sb.WriteString(fmt.Sprintf("  %s %s, %s\n", dim("-->"), r.method, where))
	if found {
		trimmed := strings.TrimSpace(line)
		sb.WriteString(fmt.Sprintf("    %s %s\n", dim("│"), trimmed))
		sb.WriteString(fmt.Sprintf("    %s %s\n", dim("│"), red(strings.Repeat("^", len(trimmed)))))
	}
	return sb.String()
}

// locate finds v's offending Inst or BasicBlock in the graph dump taken at
// construction time, returning a short location tag, the matching dump
// line (if still present), and whether one was found.
func (r *Reporter) locate(v *ir.ContractViolation) (where, line string, found bool) {
	switch {
	case v.Inst != nil:
		where = fmt.Sprintf("inst %%%d", v.Inst.GetID())
		want := v.Inst.String()
		for _, l := range r.lines {
			if strings.TrimSpace(l) == want {
				return where, l, true
			}
		}
		return where, "", false
	case v.Block != nil:
		where = fmt.Sprintf("bb%d", v.Block.ID())
		for _, l := range r.lines {
			if headerMatchesBlock(l, where) {
				return where, l, true
			}
		}
		return where, "", false
	default:
		return "graph", "", false
	}
}

func headerMatchesBlock(line, label string) bool {
	if !strings.HasPrefix(line, label) {
		return false
	}
	rest := line[len(label):]
	return rest == "" || rest[0] == ':' || rest[0] == ' ' || rest[0] == '['
}
