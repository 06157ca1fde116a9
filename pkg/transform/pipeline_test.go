package transform

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greuben92/bundlekit/pkg/editbuf"
	"github.com/greuben92/bundlekit/pkg/sourcemap"
)

var mapped = Options{Source: "in.js", SourceMap: true, SourcesContent: true}

func nop(buf *editbuf.Buffer, st State) (*StepResult, error) { return nil, nil }

func prepend(s string) Step {
	return func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		buf.Prepend(s)
		return nil, nil
	}
}

func TestNoChangeHasNoMap(t *testing.T) {
	p := New("let a = 1;\n", mapped)
	p, err := p.Pipe(mapped, nop)
	require.NoError(t, err)
	p, err = p.Pipe(mapped, func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		return &StepResult{Code: buf.Original()}, nil
	})
	require.NoError(t, err)
	assert.Len(t, p.Maps, 1)

	res, err := p.Finalize(mapped)
	require.NoError(t, err)
	assert.Equal(t, "let a = 1;\n", res.Code)
	assert.Nil(t, res.Map)
}

func TestNoChangeKeepsInputTrailer(t *testing.T) {
	inline, err := sourcemap.AppendInline("const a = 1;\n", sourcemap.Identity("orig.ts", "const a = 1;\n"), false)
	require.NoError(t, err)

	res, loader, err := Run(inline, mapped, nop)
	require.NoError(t, err)
	assert.Equal(t, inline, res.Code)
	assert.Nil(t, res.Map)
	assert.Equal(t, esbuild.LoaderJS, loader)

	p := New(inline, mapped)
	require.NotNil(t, p.Maps[0])
	p, err = p.Pipe(mapped, func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		return &StepResult{Code: buf.Original()}, nil
	})
	require.NoError(t, err)
	res, err = p.Finalize(Options{Source: "in.js"})
	require.NoError(t, err)
	assert.Equal(t, inline, res.Code)

	res, _, err = Run(inline, mapped, prepend("// x\n"))
	require.NoError(t, err)
	assert.Equal(t, "// x\nconst a = 1;\n", res.Code)
	require.NotNil(t, res.Map)
	assert.Equal(t, []string{"orig.ts"}, res.Map.Sources)
}

func TestSingleStepMap(t *testing.T) {
	const code = "let a = 1;\n"
	p, err := New(code, mapped).Pipe(mapped, prepend("'use strict';\n"))
	require.NoError(t, err)

	res, err := p.Finalize(mapped)
	require.NoError(t, err)
	require.NotNil(t, res.Map)
	assert.Equal(t, "'use strict';\nlet a = 1;\n", res.Code)

	want := editbuf.New(code)
	want.Prepend("'use strict';\n")
	assert.Equal(t, want.GenerateMap(editbuf.MapOptions{Source: "in.js"}).Mappings, res.Map.Mappings)
	content, ok := res.Map.Content(0)
	require.True(t, ok)
	assert.Equal(t, code, content)
}

func TestComposedOffsets(t *testing.T) {
	p := New("let a = 1;\n", mapped)
	p, err := p.Pipe(mapped, prepend("// one\n"))
	require.NoError(t, err)
	p, err = p.Pipe(mapped, func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		_, err := buf.Replace("let", "const")
		return nil, err
	})
	require.NoError(t, err)
	require.Len(t, p.Maps, 3)

	res, err := p.Finalize(mapped)
	require.NoError(t, err)
	assert.Equal(t, "// one\nconst a = 1;\n", res.Code)

	decoded, err := res.Map.Decode()
	require.NoError(t, err)
	seg, ok := decoded.Lookup(1, 6)
	require.True(t, ok)
	assert.Equal(t, 0, seg.OrigLine)
	assert.Equal(t, 4, seg.OrigColumn)

	seg, ok = decoded.Lookup(1, 0)
	require.True(t, ok)
	assert.Equal(t, 0, seg.OrigLine)
	assert.Equal(t, 0, seg.OrigColumn)
}

func TestPipeDoesNotMutate(t *testing.T) {
	p0 := New("x\n", mapped)
	p1, err := p0.Pipe(mapped, prepend("a"))
	require.NoError(t, err)
	p2, err := p0.Pipe(mapped, prepend("b"))
	require.NoError(t, err)

	assert.Equal(t, "x\n", p0.Code)
	assert.Len(t, p0.Maps, 1)
	assert.Equal(t, "ax\n", p1.Code)
	assert.Equal(t, "bx\n", p2.Code)
	assert.NotSame(t, p1.Maps[1], p2.Maps[1])
}

func TestStepError(t *testing.T) {
	boom := errors.New("boom")
	p := New("x", mapped)
	_, err := p.Pipe(mapped, func(*editbuf.Buffer, State) (*StepResult, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestFinalizeOptions(t *testing.T) {
	p, err := New("x\n", mapped).Pipe(mapped, prepend("y"))
	require.NoError(t, err)

	res, err := p.Finalize(Options{Source: "in.js"})
	require.NoError(t, err)
	assert.Nil(t, res.Map)

	opts := Options{Source: "in.js", SourceMap: true, File: "out.js", Inline: true}
	res, err = p.Finalize(opts)
	require.NoError(t, err)
	assert.Nil(t, res.Map.SourcesContent)
	assert.Equal(t, "out.js", res.Map.File)
	assert.True(t, strings.HasPrefix(res.Code, "yx\n//# sourceMappingURL=data:application/json"))

	inline, err := sourcemap.FromCode(res.Code, "in.js")
	require.NoError(t, err)
	assert.Equal(t, res.Map.Mappings, inline.Mappings)
}

func TestReplacementWithoutMap(t *testing.T) {
	p, err := New("a\nb\n", mapped).Pipe(mapped, func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		return &StepResult{Code: "a\ninserted\nb\n", Target: "es2019"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "es2019", p.Target)

	res, err := p.Finalize(mapped)
	require.NoError(t, err)
	decoded, err := res.Map.Decode()
	require.NoError(t, err)
	seg, ok := decoded.Lookup(2, 0)
	require.True(t, ok)
	assert.Equal(t, 1, seg.OrigLine)
}

func TestInputMap(t *testing.T) {
	dir := t.TempDir()
	original := sourcemap.Identity("orig.ts", "const a = 1;\n")
	b, err := original.JSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.js.map"), b, 0644))

	opts := Options{Source: filepath.Join(dir, "in.js"), SourceMap: true, SourcesContent: true}
	p := New("const a = 1;\n//# sourceMappingURL=in.js.map\n", opts)
	require.NotNil(t, p.Maps[0])
	assert.Equal(t, "const a = 1;\n", p.Code)

	p, err = p.Pipe(opts, prepend("// x\n"))
	require.NoError(t, err)
	res, err := p.Finalize(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"orig.ts"}, res.Map.Sources)

	broken := New("x\n//# sourceMappingURL=missing.map\n", opts)
	assert.Nil(t, broken.Maps[0])
	assert.Equal(t, "x\n", broken.Code)
}

func TestClassify(t *testing.T) {
	p := New("", Options{Source: "a.ts"})
	assert.True(t, p.TypeScript)
	assert.Equal(t, esbuild.LoaderTS, p.Loader)

	p = New("", Options{Source: "a.tsx"})
	assert.True(t, p.TypeScript)
	assert.Equal(t, esbuild.LoaderTSX, p.Loader)

	p = New("", Options{Source: "a.mjs"})
	assert.False(t, p.TypeScript)
	assert.Equal(t, esbuild.LoaderJS, p.Loader)
	assert.Equal(t, "esnext", p.Target)
}
