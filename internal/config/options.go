// Package config is the process-wide options struct spec §6 describes:
// "Options read from a process-wide configuration." Defaults match §6's
// listed values; a loader reads a simple key=value override file through
// afero, so the CLI and tests never touch the OS filesystem directly.
package config

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Options is consulted read-only by every pass (spec §5 — no pass locks
// it, it never changes mid-pass).
type Options struct {
	InliningMaxInsts          int
	InliningMaxSize           int
	InliningMaxDepth          int
	InliningSmallMethodInsts  int // "small-method threshold" referenced by max_insts admissibility (default 5)
	InliningBlacklist         []string
	InliningExternalMethods   bool
	InliningSimpleOnly        bool
	InliningSkipAlwaysThrow   bool
	InliningSkipThrowBlocks   bool
	InliningNoVirtual         bool
	InliningNoCHA             bool
	InliningNoPIC             bool
	InliningPolymorphicLimit  int // max receiver classes inlined per PIC chain (spec §4.F: "typically 4")

	MaxVRegs int

	LSEEnabled              bool
	LSEAliasCallsLimit      int // AA_CALLS_LIMIT, per block
	LSEAccessLimit          int // LS_ACCESS_LIMIT, per base object

	BranchEliminationEnabled bool
}

// Default returns spec §6's documented defaults:
// inlining.max_insts ~2000, max_size ~200, max_depth ~3-6, max_vregs ~256.
func Default() Options {
	return Options{
		InliningMaxInsts:         2000,
		InliningMaxSize:          200,
		InliningMaxDepth:         4,
		InliningSmallMethodInsts: 5,
		InliningExternalMethods:  false,
		InliningSimpleOnly:       false,
		InliningSkipAlwaysThrow:  true, // spec §9 Open Question, resolved — see DESIGN.md
		InliningSkipThrowBlocks:  false,
		InliningNoVirtual:        false,
		InliningNoCHA:            false,
		InliningNoPIC:            false,
		InliningPolymorphicLimit: 4,

		MaxVRegs: 256,

		LSEEnabled:         true,
		LSEAliasCallsLimit: 20000,
		LSEAccessLimit:     32,

		BranchEliminationEnabled: true,
	}
}

// IsBlacklisted reports whether a fully-qualified method name is rejected
// by exact-name blacklist (spec §4.F admissibility).
func (o Options) IsBlacklisted(qualifiedName string) bool {
	for _, b := range o.InliningBlacklist {
		if b == qualifiedName {
			return true
		}
	}
	return false
}

// Load reads key=value override lines from path on fs, starting from
// Default(). Unknown keys are rejected; this is deliberately a narrow
// format (not full TOML/YAML — see DESIGN.md) rather than a hand-rolled
// parser for a format this module doesn't otherwise need.
func Load(fs afero.Fs, path string) (Options, error) {
	opts := Default()
	f, err := fs.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Options{}, fmt.Errorf("config: %s:%d: expected key=value, got %q", path, lineNo, line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := apply(&opts, key, value); err != nil {
			return Options{}, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Options{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return opts, nil
}

func apply(o *Options, key, value string) error {
	switch key {
	case "inlining.max_insts":
		return setInt(&o.InliningMaxInsts, value)
	case "inlining.max_size":
		return setInt(&o.InliningMaxSize, value)
	case "inlining.max_depth":
		return setInt(&o.InliningMaxDepth, value)
	case "inlining.blacklist":
		o.InliningBlacklist = splitList(value)
		return nil
	case "inlining.external_methods":
		return setBool(&o.InliningExternalMethods, value)
	case "inlining.simple_only":
		return setBool(&o.InliningSimpleOnly, value)
	case "inlining.skip_always_throw":
		return setBool(&o.InliningSkipAlwaysThrow, value)
	case "inlining.skip_throw_blocks":
		return setBool(&o.InliningSkipThrowBlocks, value)
	case "inlining.no_virtual":
		return setBool(&o.InliningNoVirtual, value)
	case "inlining.no_cha":
		return setBool(&o.InliningNoCHA, value)
	case "inlining.no_pic":
		return setBool(&o.InliningNoPIC, value)
	case "max_vregs":
		return setInt(&o.MaxVRegs, value)
	case "lse.enabled":
		return setBool(&o.LSEEnabled, value)
	case "lse.alias_calls_limit":
		return setInt(&o.LSEAliasCallsLimit, value)
	case "lse.access_limit":
		return setInt(&o.LSEAccessLimit, value)
	case "branch_elimination.enabled":
		return setBool(&o.BranchEliminationEnabled, value)
	default:
		return fmt.Errorf("unknown option %q", key)
	}
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("expected bool, got %q", value)
	}
	*dst = b
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
