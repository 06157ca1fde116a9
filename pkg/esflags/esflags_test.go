package esflags

import (
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget(t *testing.T) {
	target, list, err := Target("es2020, chrome97,safari15.4")
	require.NoError(t, err)
	assert.Equal(t, esbuild.ES2020, target)
	assert.Equal(t, []esbuild.Engine{
		{Name: esbuild.EngineChrome, Version: "97"},
		{Name: esbuild.EngineSafari, Version: "15.4"},
	}, list)

	target, list, err = Target("")
	require.NoError(t, err)
	assert.Equal(t, esbuild.DefaultTarget, target)
	assert.Empty(t, list)

	_, _, err = Target("es1999x")
	assert.Error(t, err)
	_, _, err = Target("netscape4")
	assert.Error(t, err)

	assert.Equal(t, "es2015", TargetName(esbuild.ES2015))
	assert.Equal(t, "esnext", TargetName(esbuild.DefaultTarget))
}

func TestEnums(t *testing.T) {
	f, err := Format("esm")
	require.NoError(t, err)
	assert.Equal(t, esbuild.FormatESModule, f)
	_, err = Format("amd")
	assert.Error(t, err)

	p, err := Platform("node")
	require.NoError(t, err)
	assert.Equal(t, esbuild.PlatformNode, p)

	s, err := Sourcemap("true")
	require.NoError(t, err)
	assert.Equal(t, esbuild.SourceMapLinked, s)
	_, err = Sourcemap("sometimes")
	assert.Error(t, err)
}

func TestLoader(t *testing.T) {
	assert.Equal(t, esbuild.LoaderTS, Loader("a/b.mts"))
	assert.Equal(t, esbuild.LoaderTSX, Loader("App.TSX"))
	assert.Equal(t, esbuild.LoaderJS, Loader("x.cjs"))
	assert.Equal(t, esbuild.LoaderDefault, Loader("x.png"))
	assert.True(t, IsTypeScript(esbuild.LoaderTSX))
	assert.False(t, IsTypeScript(esbuild.LoaderJSX))
}

func TestMessages(t *testing.T) {
	assert.NoError(t, Messages(nil))
	err := Messages([]esbuild.Message{
		{Text: "boom", Location: &esbuild.Location{File: "a.ts", Line: 3, Column: 7}},
		{Text: "bad", PluginName: "emit"},
	})
	require.Error(t, err)
	assert.Equal(t, "a.ts:3:7: boom\n[emit] bad", err.Error())
}
