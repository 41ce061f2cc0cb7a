package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecValues(t *testing.T) {
	o := Default()
	assert.Equal(t, 2000, o.InliningMaxInsts)
	assert.Equal(t, 200, o.InliningMaxSize)
	assert.Equal(t, 256, o.MaxVRegs)
	assert.True(t, o.InliningSkipAlwaysThrow)
	assert.True(t, o.LSEEnabled)
	assert.True(t, o.BranchEliminationEnabled)
	assert.Equal(t, 20000, o.LSEAliasCallsLimit)
	assert.Equal(t, 32, o.LSEAccessLimit)
}

func TestIsBlacklisted(t *testing.T) {
	o := Default()
	o.InliningBlacklist = []string{"Foo.bar"}
	assert.True(t, o.IsBlacklisted("Foo.bar"))
	assert.False(t, o.IsBlacklisted("Foo.baz"))
}

func TestLoadOverridesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "# comment\ninlining.max_insts=500\nlse.enabled=false\ninlining.blacklist=Foo.bar, Baz.qux\n"
	require.NoError(t, afero.WriteFile(fs, "/opts.conf", []byte(content), 0o644))

	o, err := Load(fs, "/opts.conf")
	require.NoError(t, err)
	assert.Equal(t, 500, o.InliningMaxInsts)
	assert.False(t, o.LSEEnabled)
	assert.Equal(t, []string{"Foo.bar", "Baz.qux"}, o.InliningBlacklist)
	// Unset values keep their defaults.
	assert.Equal(t, 256, o.MaxVRegs)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opts.conf", []byte("bogus.key=1\n"), 0o644))

	_, err := Load(fs, "/opts.conf")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/missing.conf")
	assert.Error(t, err)
}
