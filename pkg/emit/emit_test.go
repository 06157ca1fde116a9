package emit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greuben92/bundlekit/pkg/manifest"
)

func TestFileMarker(t *testing.T) {
	assert.Equal(t, "logo.svg?emit=file", File("logo.svg"))
	assert.Equal(t, "logo.svg?v=1&emit=file", File("logo.svg?v=1"))
	assert.Equal(t, "logo.svg?emit=file", File(File("logo.svg")))
	assert.Equal(t, "w.js?emit=chunk", File("w.js?emit=chunk"))
	assert.Equal(t, "w.js?emit", File("w.js?emit"))
}

func TestChunkMarker(t *testing.T) {
	minify := true
	spec, err := Chunk("./worker.ts", &ChunkOptions{Format: "iife", Minify: &minify})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(spec, "./worker.ts?emit=chunk&transform="))

	again, err := Chunk(spec, nil)
	require.NoError(t, err)
	assert.Equal(t, spec, again)

	parsed, ok, err := ParseSpecifier(spec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "./worker.ts", parsed.Path)
	assert.Equal(t, KindChunk, parsed.Kind)
	require.NotNil(t, parsed.Transform)
	assert.Equal(t, "iife", parsed.Transform.Format)
	assert.True(t, *parsed.Transform.Minify)

	plain, err := Chunk("./worker.ts", nil)
	require.NoError(t, err)
	assert.Equal(t, "./worker.ts?emit=chunk", plain)
}

func TestParseSpecifier(t *testing.T) {
	spec, ok, err := ParseSpecifier("./a.png?v=2&emit=file")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Specifier{Path: "./a.png?v=2", Kind: KindFile}, spec)

	_, ok, err = ParseSpecifier("./a.png?emit=inline")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseSpecifier("./a.png")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseSpecifier("./w.js?emit=chunk&transform=%7Bnot-json")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestSelectOutput(t *testing.T) {
	files := []esbuild.OutputFile{
		{Path: "/w/out/a.js.map"},
		{Path: "/w/out/other.js"},
		{Path: "/w/out/a.js"},
	}
	meta, err := ParseMetafile(`{"outputs": {
		"out/a.js": {"entryPoint": "src/a.ts"},
		"out/other.js": {"entryPoint": "src/other.ts"},
		"out/a.js.map": {}
	}}`)
	require.NoError(t, err)

	out, ok := SelectOutput(files, meta, "/w", "/w/src/a.ts")
	require.True(t, ok)
	assert.Equal(t, "/w/out/a.js", out.Path)

	out, ok = SelectOutput(files, meta, "/w", "/w/src/missing.ts")
	require.True(t, ok)
	assert.Equal(t, "/w/out/other.js", out.Path)

	_, ok = SelectOutput(files[:1], meta, "/w", "/w/src/a.ts")
	assert.False(t, ok)
}

func TestInputFiles(t *testing.T) {
	meta, err := ParseMetafile(`{"inputs": {"src/a.ts": {}, "emit-file:/x/logo.svg": {}, "/abs/b.js": {}}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/abs/b.js", "/w/src/a.ts"}, meta.InputFiles("/w"))
}

func write_files(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func build(dir string, entry string, o Options, extra ...esbuild.Plugin) esbuild.BuildResult {
	return esbuild.Build(esbuild.BuildOptions{
		AbsWorkingDir: dir,
		EntryPoints:   []string{entry},
		Bundle:        true,
		Outdir:        filepath.Join(dir, "out"),
		LogLevel:      esbuild.LogLevelSilent,
		Plugins:       append([]esbuild.Plugin{Plugin(o)}, extra...),
	})
}

func TestPluginEmitsFilesAndChunks(t *testing.T) {
	dir := t.TempDir()
	write_files(t, dir, map[string]string{
		"main.js":   "import worker from './worker.ts?emit=chunk';\nimport logo from './logo.svg?emit=file';\nconsole.log(worker, logo);\n",
		"worker.ts": "import { msg } from './msg';\nself.postMessage(msg);\n",
		"msg.ts":    "export const msg: string = 'from-worker';\n",
		"logo.svg":  "<svg xmlns='http://www.w3.org/2000/svg'/>",
	})

	result := build(dir, "main.js", Options{})
	require.Empty(t, result.Errors)

	var main, worker, logo string
	for _, f := range result.OutputFiles {
		switch base := filepath.Base(f.Path); {
		case base == "main.js":
			main = string(f.Contents)
		case strings.HasPrefix(base, "worker-") && strings.HasSuffix(base, ".js"):
			worker = string(f.Contents)
		case strings.HasPrefix(base, "logo-") && strings.HasSuffix(base, ".svg"):
			logo = string(f.Contents)
		}
	}
	assert.Contains(t, main, "./worker-")
	assert.Contains(t, main, "./logo-")
	assert.Contains(t, worker, "from-worker")
	assert.Contains(t, logo, "<svg")
}

func TestPluginDetectsCycles(t *testing.T) {
	dir := t.TempDir()
	write_files(t, dir, map[string]string{
		"a.js": "import b from './b.js?emit=chunk';\nconsole.log(b);\n",
		"b.js": "import a from './a.js?emit=chunk';\nconsole.log(a);\n",
	})

	result := build(dir, "a.js", Options{})
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Text, ErrChunkCycle.Error())
}

func TestPluginLimitsDepth(t *testing.T) {
	dir := t.TempDir()
	write_files(t, dir, map[string]string{
		"a.js": "import b from './b.js?emit=chunk';\nconsole.log(b);\n",
		"b.js": "import c from './c.js?emit=chunk';\nconsole.log(c);\n",
		"c.js": "console.log('c');\n",
	})

	result := build(dir, "a.js", Options{MaxDepth: 1})
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Text, ErrChunkDepth.Error())

	result = build(dir, "a.js", Options{MaxDepth: 2})
	assert.Empty(t, result.Errors)
}

func TestPluginDetectsCyclesThroughBareEntry(t *testing.T) {
	dir := t.TempDir()
	write_files(t, dir, map[string]string{
		"a.js": "import b from './b.js?emit=chunk';\nconsole.log(b);\n",
		"b.js": "import a from './a.js?emit=chunk';\nconsole.log(a);\n",
	})

	result := build(dir, "./a", Options{})
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Text, ErrChunkCycle.Error())
	assert.NotContains(t, result.Errors[0].Text, ErrChunkDepth.Error())
}

func TestSubBuildsSkipEndHooks(t *testing.T) {
	dir := t.TempDir()
	write_files(t, dir, map[string]string{
		"main.js":   "import worker from './worker.js?emit=chunk';\nconsole.log(worker);\n",
		"worker.js": "self.postMessage('hi');\n",
	})

	var writes []manifest.Manifest
	hook := manifest.Plugin(manifest.Options{OnWrite: func(m manifest.Manifest) { writes = append(writes, m) }})

	result := build(dir, "main.js", Options{}, hook)
	require.Empty(t, result.Errors)
	require.Len(t, writes, 1)
	assert.Equal(t, manifest.Manifest{"main.js": "main.js"}, writes[0])

	m, err := manifest.Read(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, writes[0], m)

	writes = nil
	result = build(dir, "main.js", Options{SubBuildExclude: []string{}}, hook)
	require.Empty(t, result.Errors)
	assert.Len(t, writes, 2)
}
