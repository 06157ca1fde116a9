// Package emit provides an esbuild plugin that turns marked imports into
// emitted files. "?emit=file" copies the referenced file into the output as
// an asset; "?emit=chunk" builds the referenced module as its own sub-build
// and emits the result the same way. In both cases the importing module
// receives the asset URL.
package emit

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/pkg/esflags"
)

const (
	Name            = "emit"
	DefaultMaxDepth = 8

	namespace_file  = "emit-file"
	namespace_chunk = "emit-chunk"
	marker_filter   = `[?&]emit=(file|chunk)(&|$)`
)

// DefaultSubBuildExclude names the plugins left out of chunk sub-builds:
// their end-of-build hooks belong to the enclosing build only.
var DefaultSubBuildExclude = []string{"manifest", "devserver"}

var (
	ErrChunkCycle = errors.New("emit: chunk cycle")
	ErrChunkDepth = errors.New("emit: chunk nesting too deep")
)

type Options struct {
	// MaxDepth bounds how deep chunk sub-builds may nest.
	MaxDepth int
	// SubBuildExclude names plugins of the enclosing build that chunk
	// sub-builds run without. Nil means DefaultSubBuildExclude.
	SubBuildExclude []string
}

type chunk_request struct {
	entry     string
	transform *ChunkOptions
}

func Plugin(o Options) esbuild.Plugin {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.SubBuildExclude == nil {
		o.SubBuildExclude = DefaultSubBuildExclude
	}
	return new_plugin(o, nil, 0)
}

// new_plugin builds the plugin for one build. chain holds the entries of
// the builds enclosing this one, outermost first.
func new_plugin(o Options, chain []string, depth int) esbuild.Plugin {
	return esbuild.Plugin{
		Name: Name,
		Setup: func(pb esbuild.PluginBuild) {
			e := &emitter{opts: o, chain: chain, depth: depth, initial: pb.InitialOptions, pb: pb}
			e.setup(pb)
		},
	}
}

type emitter struct {
	opts    Options
	chain   []string
	depth   int
	initial *esbuild.BuildOptions
	workdir string
	pb      esbuild.PluginBuild
	once    sync.Once
}

func (e *emitter) setup(pb esbuild.PluginBuild) {
	e.workdir = e.initial.AbsWorkingDir
	if e.workdir == "" {
		e.workdir, _ = os.Getwd()
	}

	pb.OnResolve(esbuild.OnResolveOptions{Filter: marker_filter}, func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
		spec, ok, err := ParseSpecifier(args.Path)
		if err != nil {
			return esbuild.OnResolveResult{}, err
		}
		if !ok {
			return esbuild.OnResolveResult{}, nil
		}

		res := pb.Resolve(spec.Path, esbuild.ResolveOptions{
			Importer:   args.Importer,
			Namespace:  args.Namespace,
			ResolveDir: args.ResolveDir,
			Kind:       args.Kind,
		})
		if len(res.Errors) > 0 {
			return esbuild.OnResolveResult{Errors: res.Errors, Warnings: res.Warnings}, nil
		}
		if res.External {
			return esbuild.OnResolveResult{Path: res.Path, External: true}, nil
		}

		if spec.Kind == KindFile {
			return esbuild.OnResolveResult{Path: res.Path, Namespace: namespace_file}, nil
		}
		return esbuild.OnResolveResult{
			Path:       chunk_output_name(res.Path),
			Namespace:  namespace_chunk,
			PluginData: &chunk_request{entry: res.Path, transform: spec.Transform},
		}, nil
	})

	pb.OnLoad(esbuild.OnLoadOptions{Filter: `.*`, Namespace: namespace_file}, func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
		b, err := os.ReadFile(args.Path)
		if err != nil {
			return esbuild.OnLoadResult{}, fmt.Errorf("emit: %w", err)
		}
		contents := string(b)
		return esbuild.OnLoadResult{
			Contents:   &contents,
			Loader:     esbuild.LoaderFile,
			WatchFiles: []string{args.Path},
		}, nil
	})

	pb.OnLoad(esbuild.OnLoadOptions{Filter: `.*`, Namespace: namespace_chunk}, func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
		req, ok := args.PluginData.(*chunk_request)
		if !ok {
			return esbuild.OnLoadResult{}, fmt.Errorf("emit: no chunk request for %s", args.Path)
		}
		out, inputs, err := e.build_chunk(req)
		if err != nil {
			return esbuild.OnLoadResult{}, err
		}
		contents := string(out.Contents)
		return esbuild.OnLoadResult{
			Contents:   &contents,
			Loader:     esbuild.LoaderFile,
			WatchFiles: inputs,
		}, nil
	})
}

// entries resolves the top-level entry points the way esbuild does, so they
// compare equal to resolved chunk entries. It only runs inside callbacks,
// where pb.Resolve is available.
func (e *emitter) entries() []string {
	e.once.Do(func() {
		if e.chain != nil {
			return
		}
		inputs := slices.Clone(e.initial.EntryPoints)
		for _, entry := range e.initial.EntryPointsAdvanced {
			inputs = append(inputs, entry.InputPath)
		}
		chain := make([]string, 0, len(inputs))
		for _, input := range inputs {
			chain = append(chain, e.resolve_entry(input))
		}
		e.chain = chain
	})
	return e.chain
}

// resolve_entry resolves one entry point. A bare path naming an existing
// file is taken as relative, like esbuild does for entry points.
func (e *emitter) resolve_entry(input string) string {
	path := input
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, ".") {
		if info, err := os.Stat(e.abs(path)); err == nil && info.Mode().IsRegular() {
			path = "./" + filepath.ToSlash(path)
		}
	}
	res := e.pb.Resolve(path, esbuild.ResolveOptions{
		Kind:       esbuild.ResolveEntryPoint,
		ResolveDir: e.workdir,
	})
	if len(res.Errors) > 0 || res.External || res.Path == "" {
		return e.abs(input)
	}
	return filepath.Clean(res.Path)
}

func (e *emitter) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workdir, path)
}

// build_chunk runs a nested build of req.entry with the options of the
// enclosing build, forced to a single in-memory entry with a metafile.
func (e *emitter) build_chunk(req *chunk_request) (esbuild.OutputFile, []string, error) {
	entry := filepath.Clean(req.entry)
	enclosing := e.entries()
	if slices.Contains(enclosing, entry) {
		cycle := append(slices.Clone(enclosing), entry)
		return esbuild.OutputFile{}, nil, fmt.Errorf("%w: %s", ErrChunkCycle, strings.Join(cycle, " -> "))
	}
	if e.depth >= e.opts.MaxDepth {
		return esbuild.OutputFile{}, nil, fmt.Errorf("%w: %s at depth %d", ErrChunkDepth, entry, e.depth+1)
	}

	opts := *e.initial
	opts.EntryPoints = []string{entry}
	opts.EntryPointsAdvanced = nil
	if opts.Outdir == "" {
		opts.Outdir = e.workdir
		if e.initial.Outfile != "" {
			opts.Outdir = filepath.Dir(e.abs(e.initial.Outfile))
		}
	}
	opts.Outfile = ""
	opts.AbsWorkingDir = e.workdir
	opts.Write = false
	opts.Metafile = true
	opts.Splitting = false
	opts.LogLevel = esbuild.LogLevelSilent
	if opts.Sourcemap != esbuild.SourceMapNone {
		// the asset is emitted without its .map
		opts.Sourcemap = esbuild.SourceMapInline
	}
	if err := req.transform.apply(&opts); err != nil {
		return esbuild.OutputFile{}, nil, fmt.Errorf("emit: chunk %s: %w", entry, err)
	}

	chain := append(slices.Clone(enclosing), entry)
	opts.Plugins = make([]esbuild.Plugin, 0, len(e.initial.Plugins))
	for _, p := range e.initial.Plugins {
		if slices.Contains(e.opts.SubBuildExclude, p.Name) {
			continue
		}
		if p.Name == Name {
			p = new_plugin(e.opts, chain, e.depth+1)
		}
		opts.Plugins = append(opts.Plugins, p)
	}

	slog.Debug("building chunk", "entry", entry, "depth", e.depth+1)
	result := esbuild.Build(opts)
	if err := esflags.Messages(result.Errors); err != nil {
		return esbuild.OutputFile{}, nil, fmt.Errorf("emit: chunk %s: %w", entry, err)
	}

	meta, err := ParseMetafile(result.Metafile)
	if err != nil {
		return esbuild.OutputFile{}, nil, fmt.Errorf("emit: chunk %s: %w", entry, err)
	}
	out, ok := SelectOutput(result.OutputFiles, meta, e.workdir, entry)
	if !ok {
		return esbuild.OutputFile{}, nil, fmt.Errorf("emit: chunk %s produced no output", entry)
	}
	return out, meta.InputFiles(e.workdir), nil
}

// chunk_output_name gives the chunk the extension its output will have, so
// the emitted asset is named accordingly.
func chunk_output_name(path string) string {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".ts", ".tsx", ".mts", ".cts", ".jsx", ".mjs", ".cjs":
		return strings.TrimSuffix(path, ext) + ".js"
	case ".scss", ".sass":
		return strings.TrimSuffix(path, ext) + ".css"
	}
	return path
}

func (c *ChunkOptions) apply(opts *esbuild.BuildOptions) error {
	if c == nil {
		return nil
	}
	if c.Format != "" {
		f, err := esflags.Format(c.Format)
		if err != nil {
			return err
		}
		opts.Format = f
	}
	if c.Platform != "" {
		p, err := esflags.Platform(c.Platform)
		if err != nil {
			return err
		}
		opts.Platform = p
	}
	if c.Target != "" {
		t, engines, err := esflags.Target(c.Target)
		if err != nil {
			return err
		}
		opts.Target, opts.Engines = t, engines
	}
	if c.Minify != nil {
		opts.MinifyWhitespace = *c.Minify
		opts.MinifyIdentifiers = *c.Minify
		opts.MinifySyntax = *c.Minify
	}
	if c.Sourcemap != "" {
		s, err := esflags.Sourcemap(c.Sourcemap)
		if err != nil {
			return err
		}
		opts.Sourcemap = s
	}
	if len(c.Define) > 0 {
		define := maps.Clone(opts.Define)
		if define == nil {
			define = map[string]string{}
		}
		maps.Copy(define, c.Define)
		opts.Define = define
	}
	if len(c.External) > 0 {
		opts.External = append(slices.Clone(opts.External), c.External...)
	}
	if c.EntryNames != "" {
		opts.EntryNames = c.EntryNames
	}
	return nil
}
