package main

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iropt/internal/config"
	"iropt/internal/ir"
)

const diamondFixture = `
method Caller.run(regs=2, size=20, args=1) {
	block entry [start]:
		%c:Bool = Parameter arg=0;
		%ss:Void = SaveState() vregs=[0];
		If(%c) -> left, right;
	block left:
		%one:Int32 = Constant value=1;
		Goto -> join;
	block right:
		%two:Int32 = Constant value=2;
		Goto -> join;
	block join [end]:
		%r:Int32 = Phi in_left=%one, in_right=%two;
		Return(%r);
}
`

func TestParseFileBuildsEveryMethod(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/diamond.ir", []byte(diamondFixture), 0o644))

	_, graphs, err := parseFile(fs, "/diamond.ir")
	require.NoError(t, err)
	require.Len(t, graphs, 1)

	for _, g := range graphs {
		assert.Equal(t, "run", g.Method.Name)
		assert.Len(t, g.Blocks(), 4)
	}
}

func TestParseFileRejectsMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, _, err := parseFile(fs, "/nope.ir")
	assert.Error(t, err)
}

func TestRunCmdRunsRequestedPassesWithoutError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/diamond.ir", []byte(diamondFixture), 0o644))

	cmd := &runCmd{File: "/diamond.ir", Pass: []string{"branchelim", "lse", "inlining"}}
	require.NoError(t, cmd.Run(fs))
}

func TestDumpCmdPrintsParsedMethods(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/diamond.ir", []byte(diamondFixture), 0o644))

	cmd := &dumpCmd{File: "/diamond.ir"}
	require.NoError(t, cmd.Run(fs))
}

func TestBuildRuntimeRegistersEveryParsedMethod(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/diamond.ir", []byte(diamondFixture), 0o644))

	_, graphs, err := parseFile(fs, "/diamond.ir")
	require.NoError(t, err)

	rt := buildRuntime(graphs)
	for ref := range graphs {
		assert.True(t, rt.IsMethodCanBeInlined(ref))
	}
}

func TestRunPassReportsUnknownPass(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/diamond.ir", []byte(diamondFixture), 0o644))

	_, graphs, err := parseFile(fs, "/diamond.ir")
	require.NoError(t, err)

	var g *ir.Graph
	for _, gg := range graphs {
		g = gg
	}
	_, err = runPass("bogus", g, buildRuntime(graphs), nil, config.Default(), nil, nil)
	assert.Error(t, err)
}
