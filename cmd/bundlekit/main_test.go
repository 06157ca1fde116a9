package main

import (
	"path/filepath"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greuben92/bundlekit/internal/config"
)

func TestServeOutdir(t *testing.T) {
	root := t.TempDir()

	out, err := serve_outdir(root, filepath.Join(root, "public", "dist"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "public", "dist"), out)

	out, err = serve_outdir(root, filepath.Join(t.TempDir(), "dist"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dist"), out)
}

func TestBuildOptions(t *testing.T) {
	c, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	c.Build.Minify = true
	c.Build.Target = "es2020,chrome97"
	c.Transform.Define = []string{"__MODE__=\"prod\""}

	opts, err := build_options(c, []string{"src/main.ts"})
	require.NoError(t, err)
	assert.Equal(t, esbuild.FormatESModule, opts.Format)
	assert.Equal(t, esbuild.ES2020, opts.Target)
	assert.Equal(t, []esbuild.Engine{{Name: esbuild.EngineChrome, Version: "97"}}, opts.Engines)
	assert.True(t, opts.MinifyIdentifiers)
	assert.Equal(t, esbuild.SourceMapLinked, opts.Sourcemap)
	assert.Equal(t, map[string]string{"__MODE__": `"prod"`}, opts.Define)

	list, err := plugins(c)
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"emit", "sass", "transform"}, names)

	c.Build.Format = "amd"
	_, err = build_options(c, nil)
	assert.Error(t, err)
}
