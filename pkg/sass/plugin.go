package sass

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bep/godartsass/v2"
	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/pkg/sourcemap"
)

const Filter = `\.s[ac]ss$`

type PluginOptions struct {
	// Binary is the Dart Sass executable. Empty looks up "sass" in PATH.
	Binary       string
	IncludePaths []string
	Extensions   []string
	// Style is "expanded" or "compressed". Defaults to compressed when the
	// build minifies whitespace.
	Style string
}

func (o PluginOptions) output_style(minify bool) godartsass.OutputStyle {
	switch o.Style {
	case "expanded":
		return godartsass.OutputStyleExpanded
	case "compressed":
		return godartsass.OutputStyleCompressed
	}
	if minify {
		return godartsass.OutputStyleCompressed
	}
	return godartsass.OutputStyleExpanded
}

// Plugin compiles Sass stylesheets to CSS. The Dart Sass process is started
// on the first stylesheet and stopped when the build is disposed.
func Plugin(o PluginOptions) esbuild.Plugin {
	return esbuild.Plugin{
		Name: "sass",
		Setup: func(pb esbuild.PluginBuild) {
			var (
				once       sync.Once
				transpiler *godartsass.Transpiler
				start_err  error
			)
			start := func() (*godartsass.Transpiler, error) {
				once.Do(func() {
					transpiler, start_err = godartsass.Start(godartsass.Options{
						DartSassEmbeddedFilename: o.Binary,
						LogEventHandler: func(e godartsass.LogEvent) {
							slog.Warn("sass", "message", e.Message)
						},
					})
				})
				return transpiler, start_err
			}

			sourcemaps := pb.InitialOptions.Sourcemap != esbuild.SourceMapNone
			style := o.output_style(pb.InitialOptions.MinifyWhitespace)
			root := pb.InitialOptions.AbsWorkingDir

			pb.OnLoad(esbuild.OnLoadOptions{Filter: Filter, Namespace: "file"}, func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
				t, err := start()
				if err != nil {
					return esbuild.OnLoadResult{}, fmt.Errorf("sass: %w", err)
				}
				src, err := os.ReadFile(args.Path)
				if err != nil {
					return esbuild.OnLoadResult{}, fmt.Errorf("sass: %w", err)
				}

				r := NewResolver(Options{Extensions: o.Extensions, IncludePaths: o.IncludePaths, Root: root})
				res, err := t.Execute(godartsass.Args{
					Source:                  string(src),
					URL:                     FileURL(args.Path),
					SourceSyntax:            Syntax(args.Path),
					OutputStyle:             style,
					IncludePaths:            o.IncludePaths,
					ImportResolver:          r.Importer(args.Path),
					EnableSourceMap:         sourcemaps,
					SourceMapIncludeSources: sourcemaps,
				})
				if err != nil {
					return esbuild.OnLoadResult{}, err
				}

				css := res.CSS
				if sourcemaps && res.SourceMap != "" {
					if m, err := sourcemap.Parse([]byte(res.SourceMap)); err != nil {
						slog.Debug("sass source map", "path", args.Path, "error", err)
					} else if css, err = sourcemap.AppendInline(css, m, true); err != nil {
						return esbuild.OnLoadResult{}, err
					}
				}

				return esbuild.OnLoadResult{
					Contents:   &css,
					Loader:     esbuild.LoaderCSS,
					ResolveDir: filepath.Dir(args.Path),
					WatchFiles: r.Resolved(),
				}, nil
			})

			pb.OnDispose(func() {
				if transpiler != nil {
					if err := transpiler.Close(); err != nil {
						slog.Debug("sass close", "error", err)
					}
				}
			})
		},
	}
}
