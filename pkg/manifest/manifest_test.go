package manifest

import (
	"os"
	"path/filepath"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	m, err := Build(`{"outputs": {
		"static/assets/main-ABC.js": {"entryPoint": "assets/main.js"},
		"static/assets/main-ABC.js.map": {},
		"static/assets/chunk-X.js": {}
	}}`, "/site", "static/assets")
	require.NoError(t, err)
	assert.Equal(t, Manifest{"assets/main.js": "main-ABC.js"}, m)

	_, err = Build("{", "/site", "out")
	assert.Error(t, err)
}

func TestPluginWritesManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.js"), []byte("console.log(1);\n"), 0644))

	var seen Manifest
	result := esbuild.Build(esbuild.BuildOptions{
		AbsWorkingDir: dir,
		EntryPoints:   []string{"main.js"},
		EntryNames:    "[name]-[hash]",
		Outdir:        filepath.Join(dir, "out"),
		LogLevel:      esbuild.LogLevelSilent,
		Plugins: []esbuild.Plugin{Plugin(Options{
			Metafile: true,
			OnWrite:  func(m Manifest) { seen = m },
		})},
	})
	require.Empty(t, result.Errors)

	m, err := Read(filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Contains(t, m, "main.js")
	assert.Regexp(t, `^main-[A-Z0-9]+\.js$`, m["main.js"])
	assert.Equal(t, m, seen)
	assert.FileExists(t, filepath.Join(dir, "out", MetafileFile))

	_, err = Read(t.TempDir())
	assert.Error(t, err)
}
