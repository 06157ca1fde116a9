package transform

import (
	"fmt"
	"os"
	"path/filepath"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/pkg/esflags"
)

const DefaultFilter = `\.(m|c)?tsx?$`

type PluginOptions struct {
	// Filter selects the files handled by the plugin. Defaults to
	// TypeScript sources.
	Filter string
	Define map[string]string
	// TS defaults to the build's language target and to the tsconfig.json
	// nearest to each file, or the build's Tsconfig when one is set.
	TS TSOptions
}

// Plugin transpiles TypeScript sources through a pipeline before esbuild
// sees them. Source maps already present in the files are composed into the
// inline map handed to esbuild.
func Plugin(o PluginOptions) esbuild.Plugin {
	filter := o.Filter
	if filter == "" {
		filter = DefaultFilter
	}

	return esbuild.Plugin{
		Name: "transform",
		Setup: func(pb esbuild.PluginBuild) {
			initial := pb.InitialOptions
			if initial == nil {
				initial = &esbuild.BuildOptions{}
			}
			sourcemaps := initial.Sourcemap != esbuild.SourceMapNone
			ts, err := build_ts_options(o.TS, initial)
			if err != nil {
				pb.OnStart(func() (esbuild.OnStartResult, error) {
					return esbuild.OnStartResult{}, err
				})
				return
			}
			var configs tsconfigs

			pb.OnLoad(esbuild.OnLoadOptions{Filter: filter, Namespace: "file"}, func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
				b, err := os.ReadFile(args.Path)
				if err != nil {
					return esbuild.OnLoadResult{}, fmt.Errorf("transform: %w", err)
				}
				file_ts := ts
				if file_ts.TsconfigRaw == "" {
					if file_ts.TsconfigRaw, err = configs.nearest(filepath.Dir(args.Path)); err != nil {
						return esbuild.OnLoadResult{}, fmt.Errorf("transform: %w", err)
					}
				}

				opts := Options{
					Source:         args.Path,
					SourceMap:      sourcemaps,
					SourcesContent: true,
					Inline:         true,
				}
				res, loader, err := Run(string(b), opts, o.steps(file_ts)...)
				if err != nil {
					return esbuild.OnLoadResult{}, err
				}

				return esbuild.OnLoadResult{
					Contents:   &res.Code,
					Loader:     loader,
					ResolveDir: filepath.Dir(args.Path),
				}, nil
			})
		},
	}
}

// build_ts_options fills what o leaves empty from the build: the language
// target and the tsconfig named by the build.
func build_ts_options(o TSOptions, initial *esbuild.BuildOptions) (TSOptions, error) {
	if o.Target == "" && initial.Target != esbuild.DefaultTarget {
		o.Target = esflags.TargetName(initial.Target)
	}
	if o.TsconfigRaw == "" {
		o.TsconfigRaw = initial.TsconfigRaw
	}
	if o.TsconfigRaw == "" && initial.Tsconfig != "" {
		path := initial.Tsconfig
		if !filepath.IsAbs(path) {
			path = filepath.Join(initial.AbsWorkingDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return o, fmt.Errorf("transform: %w", err)
		}
		o.TsconfigRaw = string(b)
	}
	return o, nil
}

func (o PluginOptions) steps(ts TSOptions) []Step {
	var steps []Step
	if len(o.Define) > 0 {
		steps = append(steps, Define(o.Define))
	}
	return append(steps, TypeScript(ts))
}

// Run is New, one Pipe per step, and Finalize. It also returns the loader
// the final code should be parsed with.
func Run(code string, opts Options, steps ...Step) (Result, esbuild.Loader, error) {
	p := New(code, opts)
	for _, step := range steps {
		var err error
		if p, err = p.Pipe(opts, step); err != nil {
			return Result{}, 0, err
		}
	}
	res, err := p.Finalize(opts)
	return res, p.Loader, err
}
