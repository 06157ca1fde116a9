// Package transform threads source text through a sequence of edit steps
// while keeping a chain of source maps, one per step that changed the text,
// and folds that chain into a single map at the end.
package transform

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/pkg/editbuf"
	"github.com/greuben92/bundlekit/pkg/esflags"
	"github.com/greuben92/bundlekit/pkg/sourcemap"
)

// Options are passed unchanged to every step of one pipeline.
type Options struct {
	// Source names the input file. Input maps referenced by file are
	// resolved relative to it.
	Source string
	// SourceMap enables map output in Finalize.
	SourceMap bool
	// SourcesContent keeps the original text embedded in the final map.
	SourcesContent bool
	// File is stamped into the final map; empty clears it.
	File string
	// Inline appends the final map to the code as a data URI.
	Inline bool
	// CSS selects the block comment form of the trailer.
	CSS bool
}

// Pipeline is an immutable snapshot of a transform in progress. Maps[0] is
// the map that came with the input, possibly nil; every later entry belongs
// to one step that changed the code.
type Pipeline struct {
	// Input is the text as given, trailer included.
	Input      string
	Original   string
	Code       string
	Maps       []*sourcemap.SourceMap
	TypeScript bool
	Loader     esbuild.Loader
	Target     string
}

// State is what a step may know about the pipeline it runs in.
type State struct {
	Source     string
	Loader     esbuild.Loader
	Target     string
	TypeScript bool
}

// A Step edits buf and returns nil, in which case the map is derived from
// the buffer, or returns replacement code, optionally with its own map.
type Step func(buf *editbuf.Buffer, st State) (*StepResult, error)

type StepResult struct {
	Code string
	// Map describes Code relative to the step's input. When nil a line
	// diff is used.
	Map    *sourcemap.SourceMap
	Loader esbuild.Loader
	Target string
}

type Result struct {
	Code string
	Map  *sourcemap.SourceMap
}

// New starts a pipeline over code. An existing sourceMappingURL trailer is
// loaded as the input map and removed from the text; a trailer that cannot
// be loaded is dropped and the input treated as unmapped.
func New(code string, opts Options) Pipeline {
	given := code
	var input *sourcemap.SourceMap
	if sourcemap.FindURL(code) != "" {
		m, err := sourcemap.FromCode(code, opts.Source)
		if err != nil {
			slog.Debug("ignoring input source map", "source", opts.Source, "error", err)
		} else {
			input = m
		}
		code = sourcemap.StripComment(code)
	}

	loader := esflags.Loader(opts.Source)
	switch loader {
	case esbuild.LoaderTS, esbuild.LoaderTSX, esbuild.LoaderJSX:
	default:
		loader = esbuild.LoaderJS
		if opts.CSS || strings.EqualFold(filepath.Ext(opts.Source), ".css") {
			loader = esbuild.LoaderCSS
		}
	}

	return Pipeline{
		Input:      given,
		Original:   code,
		Code:       code,
		Maps:       []*sourcemap.SourceMap{input},
		TypeScript: esflags.IsTypeScript(loader),
		Loader:     loader,
		Target:     "esnext",
	}
}

func (p Pipeline) state(opts Options) State {
	return State{Source: opts.Source, Loader: p.Loader, Target: p.Target, TypeScript: p.TypeScript}
}

// Pipe runs step against the current code and returns the next pipeline.
// The receiver is left untouched. A step that leaves the code as it was does
// not add a map.
func (p Pipeline) Pipe(opts Options, step Step) (Pipeline, error) {
	buf := editbuf.New(p.Code)
	res, err := step(buf, p.state(opts))
	if err != nil {
		return p, err
	}

	next := p
	var (
		code string
		m    *sourcemap.SourceMap
	)
	if res == nil {
		if !buf.Changed() {
			return p, nil
		}
		code = buf.String()
		m = buf.GenerateMap(editbuf.MapOptions{Source: opts.Source, IncludeContent: true})
	} else {
		if res.Loader != esbuild.LoaderNone {
			next.Loader = res.Loader
		}
		if res.Target != "" {
			next.Target = res.Target
		}
		if res.Code == p.Code {
			return next, nil
		}
		code = res.Code
		m = res.Map
		if m == nil {
			m = sourcemap.FromLineDiff(opts.Source, p.Code, code)
		}
	}

	next.Code = code
	next.Maps = append(slices.Clip(p.Maps), m)
	return next, nil
}

// Finalize folds the map chain into one map. When no step changed the code
// the input comes back as given, trailer included, with no map.
func (p Pipeline) Finalize(opts Options) (Result, error) {
	if len(p.Maps) < 2 || p.Code == p.Original {
		return Result{Code: p.Input}, nil
	}
	if !opts.SourceMap {
		return Result{Code: p.Code}, nil
	}

	m, err := sourcemap.Compose(p.Maps...)
	if err != nil {
		return Result{}, fmt.Errorf("transform %s: %w", opts.Source, err)
	}
	if opts.SourcesContent {
		if m.SourcesContent == nil && len(m.Sources) == 1 && p.Maps[0] == nil {
			original := p.Original
			m.SourcesContent = []*string{&original}
		}
	} else {
		m.SourcesContent = nil
	}
	m.File = opts.File

	code := p.Code
	if opts.Inline {
		code, err = sourcemap.AppendInline(code, m, opts.CSS)
		if err != nil {
			return Result{}, fmt.Errorf("transform %s: %w", opts.Source, err)
		}
	}
	return Result{Code: code, Map: m}, nil
}
