package testrunner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write_tree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

const spec_source = `import test from "node:test";
import assert from "node:assert";
import { add } from "./add";

test("adds", () => {
  assert.strictEqual(add(1, 2), 3);
});
`

func fixture(t *testing.T) string {
	root := t.TempDir()
	write_tree(t, root, map[string]string{
		"src/add.ts":                  "export const add = (a: number, b: number): number => a + b;\n",
		"src/add.test.ts":             spec_source,
		"src/nested/sub.spec.js":      "console.log('sub');\n",
		"node_modules/x/x.test.js":    "",
		".bundlekit/test/old.test.js": "",
	})
	return root
}

func TestFindSpecs(t *testing.T) {
	root := fixture(t)
	specs, err := FindSpecs(root, []string{"**/*.test.{js,ts}", "**/*.spec.js", "src/add.test.ts"},
		[]string{"node_modules", filepath.Join(root, ".bundlekit")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "src", "add.test.ts"),
		filepath.Join(root, "src", "nested", "sub.spec.js"),
	}, specs)

	_, err = New(Options{Workdir: root, Specs: []string{"*.none"}})
	assert.ErrorIs(t, err, ErrNoSpecs)
}

func TestBuildOptions(t *testing.T) {
	root := fixture(t)
	r, err := New(Options{Workdir: root, Specs: []string{"src/add.test.ts"}})
	require.NoError(t, err)

	opts := r.BuildOptions()
	assert.Equal(t, esbuild.PlatformNode, opts.Platform)
	assert.Equal(t, filepath.Join(root, DefaultOutdir), opts.Outdir)
	assert.Equal(t, ".mjs", opts.OutExtension[".js"])

	r.opts.Browser = true
	opts = r.BuildOptions()
	assert.Equal(t, esbuild.PlatformBrowser, opts.Platform)
	assert.Empty(t, opts.OutExtension)
}

func TestBuildAndArgs(t *testing.T) {
	root := fixture(t)
	r, err := New(Options{Workdir: root, Specs: []string{"src/**/*.test.ts"}, Coverage: true})
	require.NoError(t, err)

	outputs, err := r.Build()
	require.NoError(t, err)
	require.Equal(t, []string{"src/add.test.mjs"}, outputs)
	assert.FileExists(t, filepath.Join(root, DefaultOutdir, "src", "add.test.mjs"))
	assert.FileExists(t, filepath.Join(root, DefaultOutdir, "src", "add.test.mjs.map"))

	assert.Equal(t, []string{
		"--test", "--enable-source-maps", "--experimental-test-coverage",
		filepath.Join(root, DefaultOutdir, "src", "add.test.mjs"),
	}, r.Args(outputs))
}

func TestBuildErrors(t *testing.T) {
	root := t.TempDir()
	write_tree(t, root, map[string]string{"bad.test.js": "import './missing';\n"})
	r, err := New(Options{Workdir: root, Specs: []string{"*.test.js"}})
	require.NoError(t, err)

	_, err = r.Build()
	assert.ErrorContains(t, err, "bad.test.js:1:")
}

func TestRun(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not installed")
	}
	root := fixture(t)
	out := &bytes.Buffer{}
	r, err := New(Options{Workdir: root, Specs: []string{"src/add.test.ts"}, Stdout: out, Stderr: out})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "adds")

	write_tree(t, root, map[string]string{"src/add.ts": "export const add = (a: number, b: number): number => a - b;\n"})
	assert.Error(t, r.Run(context.Background()))
}
